package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/fuel-coupon-engine/internal/model"
	"github.com/fairyhunter13/fuel-coupon-engine/internal/qrcode"
	"github.com/fairyhunter13/fuel-coupon-engine/pkg/database"
)

// mockTx is a mock implementation of pgx.Tx for testing transactions.
type mockTx struct {
	commitFn   func(ctx context.Context) error
	rollbackFn func(ctx context.Context) error
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("nested transactions not supported")
}

func (m *mockTx) Commit(ctx context.Context) error {
	if m.commitFn != nil {
		return m.commitFn(ctx)
	}
	return nil
}

func (m *mockTx) Rollback(ctx context.Context) error {
	if m.rollbackFn != nil {
		return m.rollbackFn(ctx)
	}
	return nil
}

func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func (m *mockTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (m *mockTx) Conn() *pgx.Conn {
	return nil
}

// mockTxBeginner is a mock implementation of TxBeginner.
type mockTxBeginner struct {
	beginFn func(ctx context.Context) (pgx.Tx, error)
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginFn != nil {
		return m.beginFn(ctx)
	}
	return &mockTx{}, nil
}

// mockUsageRepository is a mock implementation of UsageRepositoryInterface.
type mockUsageRepository struct {
	insertUsageRecordFn    func(ctx context.Context, tx database.TxQuerier, rec *model.UsageRecord) error
	insertAttemptFn        func(ctx context.Context, q database.TxQuerier, a *model.ValidationAttempt) error
	logAttemptFn           func(ctx context.Context, a *model.ValidationAttempt) error
	countUserRedemptionsFn func(ctx context.Context, campaignID uuid.UUID, userID string) (int, error)
}

func (m *mockUsageRepository) InsertUsageRecord(ctx context.Context, tx database.TxQuerier, rec *model.UsageRecord) error {
	if m.insertUsageRecordFn != nil {
		return m.insertUsageRecordFn(ctx, tx, rec)
	}
	return nil
}

func (m *mockUsageRepository) InsertAttempt(ctx context.Context, q database.TxQuerier, a *model.ValidationAttempt) error {
	if m.insertAttemptFn != nil {
		return m.insertAttemptFn(ctx, q, a)
	}
	return nil
}

func (m *mockUsageRepository) LogAttempt(ctx context.Context, a *model.ValidationAttempt) error {
	if m.logAttemptFn != nil {
		return m.logAttemptFn(ctx, a)
	}
	return nil
}

func (m *mockUsageRepository) CountUserRedemptions(ctx context.Context, campaignID uuid.UUID, userID string) (int, error) {
	if m.countUserRedemptionsFn != nil {
		return m.countUserRedemptionsFn(ctx, campaignID, userID)
	}
	return 0, nil
}

// mockFraudChecker is a mock implementation of FraudChecker.
type mockFraudChecker struct {
	checkFn func(ctx context.Context, userID, code, stationID, clientIP string) (string, error)
}

func (m *mockFraudChecker) Check(ctx context.Context, userID, code, stationID, clientIP string) (string, error) {
	if m.checkFn != nil {
		return m.checkFn(ctx, userID, code, stationID, clientIP)
	}
	return "", nil
}

// redemptionFixture wires a RedemptionService around one signed coupon in one
// active campaign, with in-memory stand-ins for every port.
type redemptionFixture struct {
	now      time.Time
	signer   *qrcode.Signer
	campaign *model.Campaign
	coupon   *model.Coupon

	campaignRepo *mockCampaignRepository
	couponRepo   *mockCouponRepository
	usageRepo    *mockUsageRepository
	fraud        *mockFraudChecker
	publisher    *capturePublisher
}

func newRedemptionFixture(t *testing.T) *redemptionFixture {
	t.Helper()
	now := time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)
	signer := qrcode.NewSigner("test-secret")

	campaign := &model.Campaign{
		ID:     uuid.New(),
		Seq:    42,
		Name:   "Summer Fuel Promo",
		Status: model.CampaignActive,
		Discount: model.DiscountRule{
			Type:  model.DiscountFixedAmount,
			Value: decimal.NewFromInt(10),
		},
		StartDate: now.Add(-24 * time.Hour),
		EndDate:   now.Add(30 * 24 * time.Hour),
	}

	coupon := &model.Coupon{
		ID:             uuid.New(),
		CampaignID:     campaign.ID,
		Code:           "AB12-CD34-EF56",
		QRPayload:      qrcode.Encode(campaign.Seq, now.Add(-time.Hour), "a1b2c3d4", "AB12-CD34-EF56"),
		QRGeneratedAt:  now.Add(-time.Hour),
		Status:         model.CouponActive,
		DiscountValue:  decimal.NewFromInt(10),
		RemainingValue: decimal.NewFromInt(10),
		ValidFrom:      now.Add(-24 * time.Hour),
		ValidUntil:     now.Add(30 * 24 * time.Hour),
		MaxUses:        1,
		CreatedAt:      now.Add(-time.Hour),
	}
	coupon.Signature = signer.Sign(signedFields(coupon, campaign))

	f := &redemptionFixture{
		now:       now,
		signer:    signer,
		campaign:  campaign,
		coupon:    coupon,
		usageRepo: &mockUsageRepository{},
		fraud:     &mockFraudChecker{},
		publisher: &capturePublisher{},
	}
	f.campaignRepo = &mockCampaignRepository{
		getBySeqFn: func(ctx context.Context, seq int64) (*model.Campaign, error) {
			if seq == f.campaign.Seq {
				return f.campaign, nil
			}
			return nil, nil
		},
	}
	f.couponRepo = &mockCouponRepository{
		getByCodeFn: func(ctx context.Context, code string) (*model.Coupon, error) {
			if code == f.coupon.Code {
				c := *f.coupon
				return &c, nil
			}
			return nil, nil
		},
	}
	return f
}

func (f *redemptionFixture) service() *RedemptionService {
	return NewRedemptionService(&mockTxBeginner{}, f.campaignRepo, f.couponRepo, f.usageRepo,
		f.signer, f.fraud, fixedClock{f.now}, f.publisher, 24*time.Hour)
}

func (f *redemptionFixture) request() *model.RedeemRequest {
	return &model.RedeemRequest{
		QRPayload:      f.coupon.QRPayload,
		Signature:      f.coupon.Signature,
		StationID:      "ST-001",
		FuelType:       "diesel",
		PurchaseAmount: "80",
		UserID:         "user_001",
		ClientIP:       "10.0.0.1",
	}
}

func TestRedemptionService_ValidateAndRedeem_Success(t *testing.T) {
	f := newRedemptionFixture(t)

	var record *model.UsageRecord
	var successAttempt *model.ValidationAttempt
	f.usageRepo.insertUsageRecordFn = func(ctx context.Context, tx database.TxQuerier, rec *model.UsageRecord) error {
		record = rec
		return nil
	}
	f.usageRepo.insertAttemptFn = func(ctx context.Context, q database.TxQuerier, a *model.ValidationAttempt) error {
		successAttempt = a
		return nil
	}

	result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, model.OutcomeSuccess, result.Outcome)
	assert.Equal(t, f.coupon.Code, result.CouponCode)
	assert.True(t, result.DiscountAmount.Equal(decimal.NewFromInt(10)), "got %s", result.DiscountAmount)
	assert.True(t, result.FinalAmount.Equal(decimal.NewFromInt(70)), "got %s", result.FinalAmount)
	assert.Equal(t, model.CouponUsed, result.CouponStatus)
	assert.NotEmpty(t, result.CorrelationID)

	require.NotNil(t, record, "a usage record lands in the redemption transaction")
	assert.Equal(t, f.coupon.ID, record.CouponID)
	assert.Equal(t, result.CorrelationID, record.CorrelationID)
	assert.True(t, record.OriginalAmount.Equal(decimal.NewFromInt(80)))

	require.NotNil(t, successAttempt, "the success attempt commits with the redemption")
	assert.Equal(t, model.OutcomeSuccess, successAttempt.Outcome)

	types := f.publisher.types()
	assert.Contains(t, types, model.EventCouponUsed)
	assert.Contains(t, types, model.EventCouponStatusChanged)
}

func TestRedemptionService_ValidateAndRedeem_BadInput(t *testing.T) {
	f := newRedemptionFixture(t)
	svc := f.service()

	_, err := svc.ValidateAndRedeem(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	req := f.request()
	req.PurchaseAmount = "not-a-number"
	_, err = svc.ValidateAndRedeem(context.Background(), req)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	req = f.request()
	req.PurchaseAmount = "-10"
	_, err = svc.ValidateAndRedeem(context.Background(), req)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestRedemptionService_ValidateAndRedeem_MalformedPayload(t *testing.T) {
	f := newRedemptionFixture(t)
	req := f.request()
	req.QRPayload = "not a qr payload"

	result, err := f.service().ValidateAndRedeem(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeInvalidCode, result.Outcome)
	assert.Equal(t, "malformed payload", result.Reason)
}

func TestRedemptionService_ValidateAndRedeem_StaleQR(t *testing.T) {
	f := newRedemptionFixture(t)

	// Re-sign a payload generated outside the freshness window.
	f.coupon.QRPayload = qrcode.Encode(f.campaign.Seq, f.now.Add(-25*time.Hour), "a1b2c3d4", f.coupon.Code)
	f.coupon.Signature = f.signer.Sign(signedFields(f.coupon, f.campaign))

	result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeInvalidCode, result.Outcome)
	assert.Equal(t, "stale qr code", result.Reason)
}

func TestRedemptionService_ValidateAndRedeem_UnknownCoupon(t *testing.T) {
	f := newRedemptionFixture(t)
	req := f.request()
	req.QRPayload = qrcode.Encode(f.campaign.Seq, f.now, "a1b2c3d4", "ZZZZ-ZZZZ-ZZZZ")

	result, err := f.service().ValidateAndRedeem(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeInvalidCode, result.Outcome)
	assert.Equal(t, "unknown coupon", result.Reason)
}

func TestRedemptionService_ValidateAndRedeem_UnknownCampaign(t *testing.T) {
	f := newRedemptionFixture(t)
	req := f.request()
	req.QRPayload = qrcode.Encode(99, f.now, "a1b2c3d4", f.coupon.Code)

	result, err := f.service().ValidateAndRedeem(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeInvalidCode, result.Outcome)
	assert.Equal(t, "unknown campaign", result.Reason)
}

func TestRedemptionService_ValidateAndRedeem_TamperedSignature(t *testing.T) {
	f := newRedemptionFixture(t)
	req := f.request()
	req.Signature = f.signer.Sign(qrcode.SignedFields{Payload: "something else"})

	result, err := f.service().ValidateAndRedeem(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeInvalidCode, result.Outcome)
	assert.Equal(t, "signature mismatch", result.Reason)
}

func TestRedemptionService_ValidateAndRedeem_RegeneratedQRInvalidatesOld(t *testing.T) {
	f := newRedemptionFixture(t)
	req := f.request() // captured before regeneration

	// The coupon's QR was regenerated after this request's code was printed.
	f.coupon.QRPayload = qrcode.Encode(f.campaign.Seq, f.now, "ffffffff", f.coupon.Code)
	f.coupon.Signature = f.signer.Sign(signedFields(f.coupon, f.campaign))

	result, err := f.service().ValidateAndRedeem(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeInvalidCode, result.Outcome)
	assert.Equal(t, "payload mismatch", result.Reason)
}

func TestRedemptionService_ValidateAndRedeem_CouponStatusOutcomes(t *testing.T) {
	tests := []struct {
		status  model.CouponStatus
		outcome model.ValidationOutcome
	}{
		{model.CouponSuspended, model.OutcomeSuspended},
		{model.CouponExpired, model.OutcomeExpired},
		{model.CouponUsed, model.OutcomeAlreadyUsed},
		{model.CouponCancelled, model.OutcomeAlreadyUsed},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newRedemptionFixture(t)
			f.coupon.Status = tt.status

			result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

			require.NoError(t, err)
			assert.Equal(t, tt.outcome, result.Outcome)
		})
	}
}

func TestRedemptionService_ValidateAndRedeem_ValidityWindowPassed(t *testing.T) {
	f := newRedemptionFixture(t)
	f.coupon.ValidUntil = f.now.Add(-time.Minute)
	f.coupon.Signature = f.signer.Sign(signedFields(f.coupon, f.campaign))

	result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeExpired, result.Outcome)
	assert.Equal(t, "validity window passed", result.Reason)
}

func TestRedemptionService_ValidateAndRedeem_NotYetValid(t *testing.T) {
	f := newRedemptionFixture(t)
	f.coupon.ValidFrom = f.now.Add(time.Hour)
	f.coupon.Signature = f.signer.Sign(signedFields(f.coupon, f.campaign))

	result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNotApplicable, result.Outcome)
	assert.Equal(t, "validity window not started", result.Reason)
}

func TestRedemptionService_ValidateAndRedeem_CampaignNotActive(t *testing.T) {
	for _, status := range []model.CampaignStatus{model.CampaignDraft, model.CampaignPaused, model.CampaignCompleted} {
		f := newRedemptionFixture(t)
		f.campaign.Status = status

		result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

		require.NoError(t, err, "status %s", status)
		assert.Equal(t, model.OutcomeNotApplicable, result.Outcome)
		assert.Equal(t, "campaign not active", result.Reason)
	}
}

func TestRedemptionService_ValidateAndRedeem_WrongStation(t *testing.T) {
	f := newRedemptionFixture(t)
	f.campaign.Stations = []string{"ST-777"}

	result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeWrongStation, result.Outcome)
	assert.Equal(t, "station not covered", result.Reason)
}

func TestRedemptionService_ValidateAndRedeem_WrongFuelType(t *testing.T) {
	f := newRedemptionFixture(t)
	f.campaign.FuelTypes = []string{"petrol_95"}

	result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNotApplicable, result.Outcome)
	assert.Equal(t, "fuel type not covered", result.Reason)
}

func TestRedemptionService_ValidateAndRedeem_BelowMinPurchase(t *testing.T) {
	f := newRedemptionFixture(t)
	f.campaign.Discount.MinPurchase = decimal.NewFromInt(100)

	result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNotApplicable, result.Outcome)
	assert.Equal(t, "below minimum purchase", result.Reason)
}

func TestRedemptionService_ValidateAndRedeem_PerUserLimitReached(t *testing.T) {
	f := newRedemptionFixture(t)
	limit := 2
	f.campaign.PerUserUsageLimit = &limit
	f.usageRepo.countUserRedemptionsFn = func(ctx context.Context, campaignID uuid.UUID, userID string) (int, error) {
		return 2, nil
	}

	result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNotApplicable, result.Outcome)
	assert.Equal(t, "per-user limit reached", result.Reason)
}

func TestRedemptionService_ValidateAndRedeem_AssignedToAnotherUser(t *testing.T) {
	f := newRedemptionFixture(t)
	owner := "user_777"
	f.coupon.AssignedUser = &owner

	result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNotApplicable, result.Outcome)
	assert.Equal(t, "coupon assigned to another user", result.Reason)
}

func TestRedemptionService_ValidateAndRedeem_AssignedUserRedeems(t *testing.T) {
	f := newRedemptionFixture(t)
	owner := "user_001" // the request's user
	f.coupon.AssignedUser = &owner

	result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, result.Outcome)
}

func TestRedemptionService_ValidateAndRedeem_FraudDetected(t *testing.T) {
	f := newRedemptionFixture(t)
	f.fraud.checkFn = func(ctx context.Context, userID, code, stationID, clientIP string) (string, error) {
		return "repeated attempts on same code", nil
	}

	result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFraudDetected, result.Outcome)
	assert.Equal(t, "repeated attempts on same code", result.Reason)
}

func TestRedemptionService_ValidateAndRedeem_FraudDetectorFailsOpen(t *testing.T) {
	f := newRedemptionFixture(t)
	f.fraud.checkFn = func(ctx context.Context, userID, code, stationID, clientIP string) (string, error) {
		return "", errors.New("attempt store down")
	}

	result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

	require.NoError(t, err, "detector outage must not block redemptions")
	assert.Equal(t, model.OutcomeSuccess, result.Outcome)
}

func TestRedemptionService_ValidateAndRedeem_BudgetExhausted(t *testing.T) {
	f := newRedemptionFixture(t)
	f.campaignRepo.recordSpendFn = func(ctx context.Context, tx database.TxQuerier, id uuid.UUID, amount decimal.Decimal) error {
		return ErrBudgetExceeded
	}

	result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNotApplicable, result.Outcome)
	assert.Equal(t, "campaign budget exhausted", result.Reason)
}

func TestRedemptionService_ValidateAndRedeem_StorageErrorMapped(t *testing.T) {
	f := newRedemptionFixture(t)
	f.couponRepo.getByCodeFn = func(ctx context.Context, code string) (*model.Coupon, error) {
		return nil, errors.New("connection refused")
	}

	_, err := f.service().ValidateAndRedeem(context.Background(), f.request())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorageUnavailable), "raw storage errors never escape")
}

func TestRedemptionService_ValidateAndRedeem_ConcurrentSingleWinner(t *testing.T) {
	f := newRedemptionFixture(t)

	// Shared coupon state behind a mutex: GetByCode hands out copies, the
	// compare-and-set applies only when the version still matches.
	var mu sync.Mutex
	state := *f.coupon

	f.couponRepo.getByCodeFn = func(ctx context.Context, code string) (*model.Coupon, error) {
		mu.Lock()
		defer mu.Unlock()
		c := state
		return &c, nil
	}
	f.couponRepo.updateCASFn = func(ctx context.Context, tx database.TxQuerier, c *model.Coupon, expectedVersion int) error {
		mu.Lock()
		defer mu.Unlock()
		if state.Version != expectedVersion {
			return ErrConcurrencyConflict
		}
		state = *c
		state.Version = expectedVersion + 1
		return nil
	}

	svc := f.service()

	const attempts = 50
	results := make([]*model.RedemptionResult, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ValidateAndRedeem(context.Background(), f.request())
		}(i)
	}
	wg.Wait()

	successes := 0
	for i := 0; i < attempts; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		switch results[i].Outcome {
		case model.OutcomeSuccess:
			successes++
		case model.OutcomeAlreadyUsed:
			// Losers observe the spent coupon.
		default:
			t.Fatalf("unexpected outcome %s (%s)", results[i].Outcome, results[i].Reason)
		}
	}
	assert.Equal(t, 1, successes, "a single-use coupon redeems exactly once under contention")
	assert.Equal(t, model.CouponUsed, state.Status)
}

func TestRedemptionService_ValidateAndRedeem_MultiUseDecrementsOnce(t *testing.T) {
	f := newRedemptionFixture(t)
	f.coupon.MaxUses = 3
	f.coupon.DiscountValue = decimal.NewFromInt(30)
	f.coupon.RemainingValue = decimal.NewFromInt(30)
	f.coupon.Signature = f.signer.Sign(signedFields(f.coupon, f.campaign))

	var persisted *model.Coupon
	f.couponRepo.updateCASFn = func(ctx context.Context, tx database.TxQuerier, c *model.Coupon, expectedVersion int) error {
		persisted = c
		return nil
	}

	result, err := f.service().ValidateAndRedeem(context.Background(), f.request())

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, result.Outcome)
	assert.Equal(t, model.CouponPartiallyRedeemed, result.CouponStatus)
	require.NotNil(t, persisted)
	assert.Equal(t, 1, persisted.CurrentUses)
	assert.True(t, persisted.RemainingValue.Equal(decimal.NewFromInt(20)), "got %s", persisted.RemainingValue)
}
