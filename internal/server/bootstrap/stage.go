package bootstrap

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"chatgem/internal/logging"
)

// BootstrapStage is one named startup step. A failing Required stage aborts
// startup; any other failure leaves the component degraded.
type BootstrapStage struct {
	Name     string
	Required bool
	Init     func(ctx context.Context) error
}

// DegradedComponents collects optional stages that failed, keyed by name.
type DegradedComponents struct {
	mu      sync.Mutex
	reasons map[string]string
}

func NewDegradedComponents() *DegradedComponents {
	return &DegradedComponents{reasons: map[string]string{}}
}

func (d *DegradedComponents) Record(name, reason string) {
	d.mu.Lock()
	d.reasons[name] = reason
	d.mu.Unlock()
}

// Reason returns why name was degraded, if it was.
func (d *DegradedComponents) Reason(name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	reason, ok := d.reasons[name]
	return reason, ok
}

// Names returns degraded component names, sorted.
func (d *DegradedComponents) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.reasons))
	for name := range d.reasons {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (d *DegradedComponents) IsEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reasons) == 0
}

func (d *DegradedComponents) String() string {
	names := d.Names()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		reason, _ := d.Reason(name)
		parts = append(parts, name+": "+reason)
	}
	return strings.Join(parts, "; ")
}

// RunStages runs stages in order and stops at the first required failure or
// when ctx is cancelled.
func RunStages(ctx context.Context, stages []BootstrapStage, degraded *DegradedComponents, logger logging.Logger) error {
	logger = logging.OrNop(logger)
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("startup interrupted before stage %q: %w", stage.Name, err)
		}
		started := time.Now()
		err := stage.Init(ctx)
		elapsed := time.Since(started).Round(time.Millisecond)
		switch {
		case err == nil:
			logger.Debug("stage %s ready in %s", stage.Name, elapsed)
		case stage.Required:
			return fmt.Errorf("required stage %q failed: %w", stage.Name, err)
		default:
			logger.Warn("stage %s degraded after %s: %v", stage.Name, elapsed, err)
			if degraded != nil {
				degraded.Record(stage.Name, err.Error())
			}
		}
	}
	return nil
}
