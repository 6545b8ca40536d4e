package reconcile

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Avertenandor/sigmatradebot/internal/logic/referral"
	"github.com/Avertenandor/sigmatradebot/pkg/log"
)

var (
	// ErrAlreadyProcessed means the deposit lost a confirmation race or is
	// already terminal. Callers treat it as a no-op outcome, not a failure.
	ErrAlreadyProcessed = errors.New("deposit already processed")
	// ErrAmountMismatch means the verified on-chain amount is outside
	// tolerance; the deposit stays pending for manual review.
	ErrAmountMismatch = errors.New("deposit amount outside tolerance")
	// ErrDuplicateTransaction means a ledger entry for this (tx_hash, type)
	// already exists. The confirmation rolls back; the credit already
	// happened in an earlier run.
	ErrDuplicateTransaction = errors.New("ledger transaction already exists")
	// ErrPendingExists means the user already has a pending deposit at
	// this level.
	ErrPendingExists = errors.New("pending deposit already exists for this level")
)

// amountTolerance is the absolute gap allowed between the expected and
// the chain-verified deposit amount, boundary inclusive.
var amountTolerance = decimal.NewFromFloat(0.01)

// Deliverer sends a best-effort user notification, capturing failures
// into retry bookkeeping.
type Deliverer interface {
	Deliver(ctx context.Context, telegramID int64, notificationType, message string, critical bool) error
}

// Reconciler owns the deposit lifecycle. It is the only writer of
// Deposit.status: pending rows move exactly once to confirmed, failed or
// expired_pending, and terminal rows are never touched again.
type Reconciler struct {
	db      *gorm.DB
	rewards *referral.Propagator
	notify  Deliverer
	log     log.Logger
}

func NewReconciler(db *gorm.DB, rewards *referral.Propagator, notify Deliverer, logger log.Logger) *Reconciler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Reconciler{
		db:      db,
		rewards: rewards,
		notify:  notify,
		log:     logger.WithName("reconcile"),
	}
}

// withinTolerance reports whether actual is within amountTolerance of
// expected, inclusive of the boundary.
func withinTolerance(expected, actual decimal.Decimal) bool {
	return actual.Sub(expected).Abs().LessThanOrEqual(amountTolerance)
}
