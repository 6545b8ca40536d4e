package retry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Avertenandor/sigmatradebot/internal/logic/referral"
	"github.com/Avertenandor/sigmatradebot/internal/model"
	"github.com/Avertenandor/sigmatradebot/internal/testutil"
	"github.com/Avertenandor/sigmatradebot/internal/types"
)

// fakeChain scripts payment outcomes: it fails failuresLeft times, then
// succeeds with txHash.
type fakeChain struct {
	mu           sync.Mutex
	failuresLeft int
	txHash       string
	calls        int
}

func (f *fakeChain) SendPayment(_ context.Context, _ string, _ decimal.Decimal) (*types.PaymentReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return &types.PaymentReceipt{Success: false, Error: "gateway unavailable"}, nil
	}
	return &types.PaymentReceipt{Success: true, TxHash: f.txHash}, nil
}

func (f *fakeChain) VerifyTransaction(context.Context, string) (*types.TxStatus, error) {
	return &types.TxStatus{Exists: true, Confirmed: true}, nil
}

// fakeMessenger fails failuresLeft sends, then succeeds.
type fakeMessenger struct {
	failuresLeft int
	sent         []string
}

func (f *fakeMessenger) SendMessage(_ context.Context, _ int64, text string) error {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return errors.New("bot was blocked by the user")
	}
	f.sent = append(f.sent, text)
	return nil
}

type countingAlerter struct {
	count atomic.Int64
}

func (c *countingAlerter) Critical(context.Context, string) {
	c.count.Add(1)
}

func seedUser(t *testing.T, db *gorm.DB, telegramID int64) *model.User {
	t.Helper()
	user := model.User{
		TelegramID:    telegramID,
		WalletAddress: "0x00000000000000000000000000000000000000aa",
		Balance:       decimal.Zero,
		Status:        model.UserStatusActive,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func seedPayment(t *testing.T, db *gorm.DB, userID uint, earningID *uint) *model.Payment {
	t.Helper()
	payment := model.Payment{
		UserID:    userID,
		EarningID: earningID,
		Amount:    decimal.NewFromInt(3),
		ToAddress: "0x00000000000000000000000000000000000000aa",
		Type:      model.PaymentTypeReferralPayout,
		Status:    model.PaymentStatusPending,
	}
	require.NoError(t, db.Create(&payment).Error)
	return &payment
}

func makeDue(t *testing.T, db *gorm.DB, retryID uint) {
	t.Helper()
	err := db.Model(&model.PaymentRetry{}).
		Where("id = ?", retryID).
		Update("next_retry_at", time.Now().UTC().Add(-time.Second)).Error
	require.NoError(t, err)
}

func TestRecordFailureCreatesAndIncrements(t *testing.T) {
	db := testutil.OpenTestDB(t)
	alerter := &countingAlerter{}
	r := NewPaymentRetrier(db, &fakeChain{}, nil, alerter, nil)
	ctx := context.Background()

	user := seedUser(t, db, 1)
	payment := seedPayment(t, db, user.ID, nil)

	require.NoError(t, r.RecordFailure(ctx, payment.ID, "timeout"))

	var row model.PaymentRetry
	require.NoError(t, db.Where("payment_id = ?", payment.ID).First(&row).Error)
	assert.Equal(t, 1, row.AttemptCount)
	assert.Equal(t, "timeout", row.LastError)
	assert.False(t, row.InDLQ)
	// First retry lands about one minute out.
	assert.WithinDuration(t, time.Now().UTC().Add(time.Minute), row.NextRetryAt, 10*time.Second)

	require.NoError(t, r.RecordFailure(ctx, payment.ID, "timeout again"))
	require.NoError(t, db.Where("payment_id = ?", payment.ID).First(&row).Error)
	assert.Equal(t, 2, row.AttemptCount)
	assert.Equal(t, "timeout again", row.LastError)
	assert.EqualValues(t, 0, alerter.count.Load())
}

func TestDeadLetterAfterMaxAttempts(t *testing.T) {
	db := testutil.OpenTestDB(t)
	alerter := &countingAlerter{}
	r := NewPaymentRetrier(db, &fakeChain{}, nil, alerter, nil)
	ctx := context.Background()

	user := seedUser(t, db, 1)
	payment := seedPayment(t, db, user.ID, nil)

	for i := 0; i < MaxAttempts; i++ {
		require.NoError(t, r.RecordFailure(ctx, payment.ID, "down"))
	}

	var row model.PaymentRetry
	require.NoError(t, db.Where("payment_id = ?", payment.ID).First(&row).Error)
	assert.Equal(t, MaxAttempts, row.AttemptCount)
	assert.True(t, row.InDLQ)
	assert.EqualValues(t, 1, alerter.count.Load())

	// A further failure must not raise a second alert.
	require.NoError(t, r.RecordFailure(ctx, payment.ID, "still down"))
	assert.EqualValues(t, 1, alerter.count.Load())
}

func TestSelectReadyBatchDueFilter(t *testing.T) {
	db := testutil.OpenTestDB(t)
	r := NewPaymentRetrier(db, &fakeChain{}, nil, nil, nil)
	ctx := context.Background()

	user := seedUser(t, db, 1)
	due := seedPayment(t, db, user.ID, nil)
	notDue := seedPayment(t, db, user.ID, nil)

	require.NoError(t, r.RecordFailure(ctx, due.ID, "x"))
	require.NoError(t, r.RecordFailure(ctx, notDue.ID, "x"))

	var dueRow model.PaymentRetry
	require.NoError(t, db.Where("payment_id = ?", due.ID).First(&dueRow).Error)
	makeDue(t, db, dueRow.ID)

	batch, err := r.SelectReadyBatch(ctx, BatchLimit)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, due.ID, batch[0].PaymentID)
}

func TestProcessDueSettlesPayment(t *testing.T) {
	db := testutil.OpenTestDB(t)
	chain := &fakeChain{txHash: "0xdead"}
	rewards := referral.NewPropagator(db, map[int]decimal.Decimal{1: decimal.NewFromFloat(0.03)}, nil, nil)
	r := NewPaymentRetrier(db, chain, rewards, nil, nil)
	ctx := context.Background()

	referrer := seedUser(t, db, 1)
	referred := seedUser(t, db, 2)
	require.NoError(t, db.Create(&model.Referral{
		ReferrerID: referrer.ID,
		ReferralID: referred.ID,
		Level:      1,
	}).Error)
	var rel model.Referral
	require.NoError(t, db.Where("referrer_id = ?", referrer.ID).First(&rel).Error)
	earning := model.ReferralEarning{
		ReferralID:          rel.ID,
		Amount:              decimal.NewFromInt(3),
		SourceTransactionID: 1,
	}
	require.NoError(t, db.Create(&earning).Error)

	payment := seedPayment(t, db, referrer.ID, &earning.ID)
	require.NoError(t, r.RecordFailure(ctx, payment.ID, "first attempt failed"))

	var row model.PaymentRetry
	require.NoError(t, db.Where("payment_id = ?", payment.ID).First(&row).Error)
	makeDue(t, db, row.ID)

	stats, err := r.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Successful)

	var settled model.Payment
	require.NoError(t, db.First(&settled, payment.ID).Error)
	assert.Equal(t, model.PaymentStatusConfirmed, settled.Status)
	assert.Equal(t, "0xdead", settled.TxHash)

	var ledger model.Transaction
	require.NoError(t, db.Where("tx_hash = ? AND type = ?", "0xdead", model.TxTypeSystemPayout).
		First(&ledger).Error)

	var paid model.ReferralEarning
	require.NoError(t, db.First(&paid, earning.ID).Error)
	assert.True(t, paid.Paid)
	assert.Equal(t, "0xdead", paid.TxHash)

	require.NoError(t, db.Where("payment_id = ?", payment.ID).First(&row).Error)
	assert.True(t, row.Resolved)
}

func TestProcessDueSettlesWithExistingLedgerEntry(t *testing.T) {
	db := testutil.OpenTestDB(t)
	chain := &fakeChain{txHash: "0xdead"}
	rewards := referral.NewPropagator(db, map[int]decimal.Decimal{1: decimal.NewFromFloat(0.03)}, nil, nil)
	r := NewPaymentRetrier(db, chain, rewards, nil, nil)
	ctx := context.Background()

	referrer := seedUser(t, db, 1)
	referred := seedUser(t, db, 2)
	rel := model.Referral{ReferrerID: referrer.ID, ReferralID: referred.ID, Level: 1}
	require.NoError(t, db.Create(&rel).Error)
	earning := model.ReferralEarning{
		ReferralID:          rel.ID,
		Amount:              decimal.NewFromInt(3),
		SourceTransactionID: 1,
	}
	require.NoError(t, db.Create(&earning).Error)

	payment := seedPayment(t, db, referrer.ID, &earning.ID)
	require.NoError(t, r.RecordFailure(ctx, payment.ID, "x"))

	// Ledger entry already written by a run that died before settling
	// the rest; the retry must still finish the remaining bookkeeping.
	require.NoError(t, db.Create(&model.Transaction{
		UserID: referrer.ID,
		TxHash: "0xdead",
		Type:   model.TxTypeSystemPayout,
		Amount: decimal.NewFromInt(3),
		Status: model.TxStatusConfirmed,
	}).Error)

	var row model.PaymentRetry
	require.NoError(t, db.Where("payment_id = ?", payment.ID).First(&row).Error)
	makeDue(t, db, row.ID)

	stats, err := r.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Successful)

	var settled model.Payment
	require.NoError(t, db.First(&settled, payment.ID).Error)
	assert.Equal(t, model.PaymentStatusConfirmed, settled.Status)

	var paid model.ReferralEarning
	require.NoError(t, db.First(&paid, earning.ID).Error)
	assert.True(t, paid.Paid)

	require.NoError(t, db.Where("payment_id = ?", payment.ID).First(&row).Error)
	assert.True(t, row.Resolved)

	// Still exactly one ledger row for the payout hash.
	var count int64
	require.NoError(t, db.Model(&model.Transaction{}).
		Where("tx_hash = ? AND type = ?", "0xdead", model.TxTypeSystemPayout).
		Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestProcessDueKeepsFailing(t *testing.T) {
	db := testutil.OpenTestDB(t)
	chain := &fakeChain{failuresLeft: 100}
	r := NewPaymentRetrier(db, chain, nil, &countingAlerter{}, nil)
	ctx := context.Background()

	user := seedUser(t, db, 1)
	payment := seedPayment(t, db, user.ID, nil)
	require.NoError(t, r.RecordFailure(ctx, payment.ID, "x"))

	var row model.PaymentRetry
	require.NoError(t, db.Where("payment_id = ?", payment.ID).First(&row).Error)
	makeDue(t, db, row.ID)

	stats, err := r.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	require.NoError(t, db.Where("payment_id = ?", payment.ID).First(&row).Error)
	assert.Equal(t, 2, row.AttemptCount)
	// Pushed out by the schedule; not immediately re-eligible.
	assert.True(t, row.NextRetryAt.After(time.Now().UTC()))
}

func TestAdminRequeue(t *testing.T) {
	db := testutil.OpenTestDB(t)
	alerter := &countingAlerter{}
	r := NewPaymentRetrier(db, &fakeChain{}, nil, alerter, nil)
	ctx := context.Background()

	user := seedUser(t, db, 1)
	payment := seedPayment(t, db, user.ID, nil)
	require.NoError(t, r.RecordFailure(ctx, payment.ID, "x"))

	var row model.PaymentRetry
	require.NoError(t, db.Where("payment_id = ?", payment.ID).First(&row).Error)

	// Not dead-lettered yet.
	assert.ErrorIs(t, r.AdminRequeue(ctx, row.ID), ErrNotInDLQ)

	for i := 0; i < MaxAttempts; i++ {
		require.NoError(t, r.RecordFailure(ctx, payment.ID, "down"))
	}
	require.NoError(t, r.AdminRequeue(ctx, row.ID))

	require.NoError(t, db.First(&row, row.ID).Error)
	assert.False(t, row.InDLQ)
	assert.Equal(t, 0, row.AttemptCount)
	assert.False(t, row.NextRetryAt.After(time.Now().UTC()))

	// Requeued items are selectable again.
	batch, err := r.SelectReadyBatch(ctx, BatchLimit)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
}

func TestDispatchSuccessFirstTry(t *testing.T) {
	db := testutil.OpenTestDB(t)
	chain := &fakeChain{txHash: "0xbeef"}
	r := NewPaymentRetrier(db, chain, nil, nil, nil)
	ctx := context.Background()

	user := seedUser(t, db, 1)
	payment := seedPayment(t, db, user.ID, nil)

	require.NoError(t, r.Dispatch(ctx, payment.ID))

	var settled model.Payment
	require.NoError(t, db.First(&settled, payment.ID).Error)
	assert.Equal(t, model.PaymentStatusConfirmed, settled.Status)

	// No retry bookkeeping for a clean first attempt.
	var count int64
	require.NoError(t, db.Model(&model.PaymentRetry{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestPayoutPendingEarnings(t *testing.T) {
	db := testutil.OpenTestDB(t)
	chain := &fakeChain{txHash: "0xfeed"}
	rewards := referral.NewPropagator(db, map[int]decimal.Decimal{1: decimal.NewFromFloat(0.03)}, nil, nil)
	r := NewPaymentRetrier(db, chain, rewards, nil, nil)
	ctx := context.Background()

	referrer := seedUser(t, db, 1)
	referred := seedUser(t, db, 2)
	rel := model.Referral{ReferrerID: referrer.ID, ReferralID: referred.ID, Level: 1}
	require.NoError(t, db.Create(&rel).Error)
	earning := model.ReferralEarning{
		ReferralID:          rel.ID,
		Amount:              decimal.NewFromInt(3),
		SourceTransactionID: 1,
	}
	require.NoError(t, db.Create(&earning).Error)

	stats, err := r.PayoutPendingEarnings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Successful)

	var payment model.Payment
	require.NoError(t, db.Where("earning_id = ?", earning.ID).First(&payment).Error)
	assert.Equal(t, model.PaymentStatusConfirmed, payment.Status)

	var paid model.ReferralEarning
	require.NoError(t, db.First(&paid, earning.ID).Error)
	assert.True(t, paid.Paid)

	// Re-running creates no second payment.
	stats, err = r.PayoutPendingEarnings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed)

	var count int64
	require.NoError(t, db.Model(&model.Payment{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestPayoutConcurrentSweeps(t *testing.T) {
	db := testutil.OpenTestDB(t)
	chain := &fakeChain{txHash: "0xfeed"}
	rewards := referral.NewPropagator(db, map[int]decimal.Decimal{1: decimal.NewFromFloat(0.03)}, nil, nil)
	r := NewPaymentRetrier(db, chain, rewards, nil, nil)
	ctx := context.Background()

	referrer := seedUser(t, db, 1)
	referred := seedUser(t, db, 2)
	rel := model.Referral{ReferrerID: referrer.ID, ReferralID: referred.ID, Level: 1}
	require.NoError(t, db.Create(&rel).Error)
	earning := model.ReferralEarning{
		ReferralID:          rel.ID,
		Amount:              decimal.NewFromInt(3),
		SourceTransactionID: 1,
	}
	require.NoError(t, db.Create(&earning).Error)

	// Overlapping sweeps both scan the earning as payable; the unique
	// index on payments.earning_id lets only one payment through.
	const sweeps = 4
	var wg sync.WaitGroup
	for i := 0; i < sweeps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.PayoutPendingEarnings(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var count int64
	require.NoError(t, db.Model(&model.Payment{}).
		Where("earning_id = ?", earning.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestNotificationDeliverEnqueuesOnFailure(t *testing.T) {
	db := testutil.OpenTestDB(t)
	messenger := &fakeMessenger{failuresLeft: 1}
	n := NewNotificationRetrier(db, messenger, nil, nil)
	ctx := context.Background()

	require.NoError(t, n.Deliver(ctx, 42, "deposit_confirmed", "your deposit landed", false))

	var row model.FailedNotification
	require.NoError(t, db.First(&row).Error)
	assert.EqualValues(t, 42, row.UserTelegramID)
	assert.Equal(t, "deposit_confirmed", row.NotificationType)
	assert.Equal(t, 1, row.AttemptCount)
	require.NotNil(t, row.LastAttemptAt)

	// A healthy messenger leaves no trace.
	require.NoError(t, n.Deliver(ctx, 43, "deposit_confirmed", "ok", false))
	var count int64
	require.NoError(t, db.Model(&model.FailedNotification{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestNotificationRetryLifecycle(t *testing.T) {
	db := testutil.OpenTestDB(t)
	messenger := &fakeMessenger{failuresLeft: 1}
	n := NewNotificationRetrier(db, messenger, nil, nil)
	ctx := context.Background()

	require.NoError(t, n.Deliver(ctx, 42, "deposit_confirmed", "hello", false))

	var row model.FailedNotification
	require.NoError(t, db.First(&row).Error)

	// Too early: the one-minute delay has not elapsed.
	stats, err := n.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed)

	past := time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, db.Model(&row).Update("last_attempt_at", past).Error)

	stats, err = n.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Successful)

	require.NoError(t, db.First(&row, row.ID).Error)
	assert.True(t, row.Resolved)
	require.NotNil(t, row.ResolvedAt)
	assert.Equal(t, []string{"hello"}, messenger.sent)

	// Resolved items stay resolved.
	stats, err = n.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed)
}

func TestNotificationGiveUpAlertsOnce(t *testing.T) {
	db := testutil.OpenTestDB(t)
	messenger := &fakeMessenger{failuresLeft: 100}
	alerter := &countingAlerter{}
	n := NewNotificationRetrier(db, messenger, alerter, nil)
	ctx := context.Background()

	require.NoError(t, n.Enqueue(ctx, 42, "payout_sent", "critical payout note", "", true, "blocked"))

	var row model.FailedNotification
	require.NoError(t, db.First(&row).Error)
	require.NoError(t, db.Model(&row).Updates(map[string]interface{}{
		"attempt_count":   MaxAttempts - 1,
		"last_attempt_at": time.Now().UTC().Add(-24 * time.Hour),
	}).Error)

	stats, err := n.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.GaveUp)
	assert.EqualValues(t, 1, alerter.count.Load())

	// Exhausted items are out of the retry population for good.
	stats, err = n.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed)
	assert.EqualValues(t, 1, alerter.count.Load())
}

func TestNotificationGiveUpAlertsForNonCritical(t *testing.T) {
	db := testutil.OpenTestDB(t)
	messenger := &fakeMessenger{failuresLeft: 100}
	alerter := &countingAlerter{}
	n := NewNotificationRetrier(db, messenger, alerter, nil)
	ctx := context.Background()

	require.NoError(t, n.Enqueue(ctx, 42, "deposit_confirmed", "plain note", "", false, "blocked"))

	var row model.FailedNotification
	require.NoError(t, db.First(&row).Error)
	require.NoError(t, db.Model(&row).Updates(map[string]interface{}{
		"attempt_count":   MaxAttempts - 1,
		"last_attempt_at": time.Now().UTC().Add(-24 * time.Hour),
	}).Error)

	stats, err := n.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.GaveUp)

	// Operators hear about every exhausted notification, not only the
	// critical ones.
	assert.EqualValues(t, 1, alerter.count.Load())
}

func TestNotificationAdminRequeue(t *testing.T) {
	db := testutil.OpenTestDB(t)
	messenger := &fakeMessenger{failuresLeft: 100}
	n := NewNotificationRetrier(db, messenger, nil, nil)
	ctx := context.Background()

	require.NoError(t, n.Enqueue(ctx, 42, "payout_sent", "note", "", false, "blocked"))
	var row model.FailedNotification
	require.NoError(t, db.First(&row).Error)

	assert.ErrorIs(t, n.AdminRequeue(ctx, row.ID), ErrNotInDLQ)

	require.NoError(t, db.Model(&row).Update("attempt_count", MaxAttempts).Error)
	require.NoError(t, n.AdminRequeue(ctx, row.ID))

	require.NoError(t, db.First(&row, row.ID).Error)
	assert.Equal(t, 0, row.AttemptCount)
	assert.Nil(t, row.LastAttemptAt)
}

func TestNotificationStatistics(t *testing.T) {
	db := testutil.OpenTestDB(t)
	n := NewNotificationRetrier(db, &fakeMessenger{}, nil, nil)
	ctx := context.Background()

	require.NoError(t, n.Enqueue(ctx, 1, "deposit_confirmed", "a", "", false, "x"))
	require.NoError(t, n.Enqueue(ctx, 2, "deposit_confirmed", "b", "", true, "x"))
	require.NoError(t, n.Enqueue(ctx, 3, "payout_sent", "c", "", false, "x"))

	var third model.FailedNotification
	require.NoError(t, db.Where("user_telegram_id = ?", 3).First(&third).Error)
	require.NoError(t, n.Resolve(ctx, third.ID))

	stats, err := n.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 2, stats.Unresolved)
	assert.EqualValues(t, 1, stats.Critical)
	assert.EqualValues(t, 2, stats.ByType["deposit_confirmed"])
	assert.Zero(t, stats.ByType["payout_sent"])
}
