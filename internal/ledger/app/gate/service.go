package gate

import (
	"context"
	"errors"

	"chatgem/internal/ledger/app/ledger"
	"chatgem/internal/ledger/domain"
	"chatgem/internal/logging"
	"chatgem/internal/observability"
)

// CostPerMessage is the number of tokens one chat message consumes.
const CostPerMessage int64 = 1

// Authorization is the gate's answer for one chat message.
type Authorization struct {
	Granted bool
	Balance int64
}

// Gate charges for chat messages before they reach the AI responder. A
// charged token is not refunded when the responder later fails.
type Gate struct {
	ledger *ledger.Service
	tracer *observability.TracerProvider
	logger logging.Logger
}

// New builds a gate over the ledger. tracer may be nil.
func New(ledger *ledger.Service, tracer *observability.TracerProvider) *Gate {
	return &Gate{
		ledger: ledger,
		tracer: tracer,
		logger: logging.NewComponentLogger("gate"),
	}
}

// Authorize debits one token. Granted is false when the balance cannot
// cover it; that is not an error.
func (g *Gate) Authorize(ctx context.Context, userID string) (auth Authorization, err error) {
	ctx, span := g.tracer.StartSpan(ctx, observability.SpanAuthorize, observability.UserAttrs(userID)...)
	defer func() { observability.EndSpan(span, err) }()

	user, err := g.ledger.DebitOrErr(ctx, userID, CostPerMessage)
	if errors.Is(err, domain.ErrInsufficientBalance) {
		logging.FromContext(ctx, g.logger).Debug("chat denied for %s: balance %d", userID, user.Tokens)
		return Authorization{Granted: false, Balance: user.Tokens}, nil
	}
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{Granted: true, Balance: user.Tokens}, nil
}
