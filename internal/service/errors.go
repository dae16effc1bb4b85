package service

import "errors"

var (
	// ErrInvalidInput is returned when request data is malformed or incomplete.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCampaignNotFound is returned when a campaign cannot be found.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrCouponNotFound is returned when a coupon cannot be found.
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrDuplicateName is returned when creating a campaign whose name is taken.
	ErrDuplicateName = errors.New("campaign name already exists")

	// ErrInvalidBudget is returned when a campaign budget is not a positive amount.
	ErrInvalidBudget = errors.New("invalid campaign budget")

	// ErrInvalidTransition is returned when a status change violates a state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyExpired is returned when activating a campaign past its end date.
	ErrAlreadyExpired = errors.New("campaign already expired")

	// ErrCapacityExceeded is returned when a coupon batch would exceed the
	// campaign's coupon capacity.
	ErrCapacityExceeded = errors.New("campaign coupon capacity exceeded")

	// ErrBudgetExceeded is returned when a redemption would overrun the
	// campaign budget or total usage limit.
	ErrBudgetExceeded = errors.New("campaign budget exceeded")

	// ErrNegativeAmount is returned when recording a negative spend.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrDuplicateCode is returned when a generated coupon code collides with
	// an existing one. Generation retries with a fresh code.
	ErrDuplicateCode = errors.New("coupon code already exists")

	// ErrConcurrencyConflict is returned after losing a compare-and-set race
	// more times than the bounded retry budget allows.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")

	// ErrStorageUnavailable wraps infrastructure failures so callers never see
	// raw driver errors.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Redemption-specific failures. Each maps 1:1 onto a validation outcome so the
// caller can differentiate them in UX.
var (
	ErrInvalidCode   = errors.New("invalid coupon code")
	ErrExpired       = errors.New("coupon expired")
	ErrAlreadyUsed   = errors.New("coupon already used")
	ErrSuspended     = errors.New("coupon suspended")
	ErrWrongStation  = errors.New("coupon not valid at this station")
	ErrNotApplicable = errors.New("coupon not applicable to this purchase")
	ErrFraudDetected = errors.New("fraud detected")
)
