package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgem/internal/ledger/domain"
)

func memoryConfig() Config {
	return Config{
		Environment: "development",
		Store:       StoreConfig{Driver: StoreMemory},
		Auth:        AuthConfig{JWTSecret: "jwt-secret", Issuer: "chatgem"},
		Webhook:     WebhookConfig{Secret: "whsec"},
		Settlement: SettlementConfig{
			SimulateOnProviderFailure: true,
			PendingTTL:                time.Minute,
			SweepBatch:                10,
			BonusThresholdMajor:       500,
			BonusPercent:              10,
			EventNode:                 3,
		},
	}
}

func TestBuildContainerWiresMemoryStore(t *testing.T) {
	ctx := context.Background()
	c, err := BuildContainer(ctx, memoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.Nil(t, c.HealthCheck())
	assert.True(t, c.Degraded.IsEmpty())

	user, created, err := c.Ledger.Register(ctx, "u-1", "u1@example.com")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.StartingGrant, user.Tokens)

	plan, err := c.Plans.Lookup("popular")
	require.NoError(t, err)
	intent, err := c.Settlement.CreateIntent(ctx, "u-1", plan.AmountMinor, plan.BaseTokens, plan.Name)
	require.NoError(t, err)
	assert.Equal(t, int64(500), intent.BonusTokens)

	// No provider is configured, so development verification falls back to
	// a simulated success.
	result, err := c.Settlement.Verify(ctx, "u-1", intent.OrderID, "pay_1")
	require.NoError(t, err)
	assert.True(t, result.Simulated)
	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, domain.StartingGrant+5500, result.NewBalance)

	auth, err := c.Gate.Authorize(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, auth.Granted)
}

func TestBuildContainerRejectsInvalidPlans(t *testing.T) {
	cfg := memoryConfig()
	cfg.Plans = []domain.Plan{{Name: "broken", AmountMinor: 0, BaseTokens: 10}}

	_, err := BuildContainer(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"plans"`)
}

func TestBuildContainerWiresS3Archive(t *testing.T) {
	cfg := memoryConfig()
	cfg.Archive.Bucket = "payloads"
	cfg.Archive.Region = "us-east-1"
	cfg.Archive.AccessKey = "AKIATEST"
	cfg.Archive.SecretKey = "secret"

	c, err := BuildContainer(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	assert.True(t, c.Degraded.IsEmpty())
}

func TestRunStagesStopsOnRequiredFailure(t *testing.T) {
	degraded := NewDegradedComponents()
	ran := false
	err := RunStages(context.Background(), []BootstrapStage{
		{Name: "optional", Init: func(context.Context) error { return errors.New("s3 down") }},
		{Name: "store", Required: true, Init: func(context.Context) error { return errors.New("no db") }},
		{Name: "after", Required: true, Init: func(context.Context) error { ran = true; return nil }},
	}, degraded, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), `required stage "store" failed`)
	assert.False(t, ran)
	assert.Equal(t, []string{"optional"}, degraded.Names())
	reason, ok := degraded.Reason("optional")
	assert.True(t, ok)
	assert.Equal(t, "s3 down", reason)
	assert.Equal(t, "optional: s3 down", degraded.String())
}

func TestRunStagesHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := RunStages(ctx, []BootstrapStage{
		{Name: "store", Required: true, Init: func(context.Context) error { ran = true; return nil }},
	}, nil, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}
