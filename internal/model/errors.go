package model

import "errors"

var (
	// ErrInvalidTransition is returned when a status change violates the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflictingDiscount is returned when a discount rule is internally inconsistent.
	ErrConflictingDiscount = errors.New("conflicting discount specification")

	// ErrInvalidDateRange is returned when a validity window ends before it starts.
	ErrInvalidDateRange = errors.New("end date must be after start date")

	// ErrNotActive is returned when a coupon in a non-redeemable status is used.
	ErrNotActive = errors.New("coupon is not active")

	// ErrCouponExpired is returned when a coupon is used past its validity window.
	ErrCouponExpired = errors.New("coupon expired")

	// ErrNotYetValid is returned when a coupon is used before its validity window opens.
	ErrNotYetValid = errors.New("coupon validity window not started")

	// ErrWrongStation is returned when the campaign does not cover the station.
	ErrWrongStation = errors.New("station not covered by campaign")

	// ErrWrongFuelType is returned when the campaign does not cover the fuel type.
	ErrWrongFuelType = errors.New("fuel type not covered by campaign")

	// ErrBelowMinPurchase is returned when the purchase does not meet the coupon threshold.
	ErrBelowMinPurchase = errors.New("purchase amount below coupon minimum")
)
