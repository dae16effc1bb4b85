package service

import (
	"context"
	"time"
)

// AttemptCounter is the slice of the usage store the fraud detector reads.
type AttemptCounter interface {
	CountUserCodeAttempts(ctx context.Context, userID, code string, since time.Time) (int, error)
	CountDistinctCodesByIP(ctx context.Context, clientIP string, since time.Time) (int, error)
}

// StationDirectory answers whether a station id is known. The station
// registry lives outside this engine; AllowAllStations stands in when no
// directory is wired.
type StationDirectory interface {
	Exists(ctx context.Context, stationID string) (bool, error)
}

// AllowAllStations accepts every station id.
type AllowAllStations struct{}

// Exists always reports true.
func (AllowAllStations) Exists(context.Context, string) (bool, error) { return true, nil }

// FraudOptions holds the detector window and thresholds.
type FraudOptions struct {
	// Window is how far back attempts are considered.
	Window time.Duration
	// SameCodeAttempts flags a user retrying one code at least this often.
	SameCodeAttempts int
	// DistinctCodesPerIP flags an IP probing at least this many codes.
	DistinctCodesPerIP int
	// Timeout bounds every store round-trip; the detector never blocks the
	// redemption path longer than this.
	Timeout time.Duration
}

// FraudDetector flags abusive validation patterns from recent attempt
// history. It is advisory: when its own store is unreachable it degrades to
// allow, because the signature and status checks remain authoritative.
// Failing closed here would take down all redemptions on detector outage.
type FraudDetector struct {
	attempts AttemptCounter
	stations StationDirectory
	clock    Clock
	opts     FraudOptions
}

// NewFraudDetector creates a FraudDetector.
func NewFraudDetector(attempts AttemptCounter, stations StationDirectory, clock Clock, opts FraudOptions) *FraudDetector {
	if stations == nil {
		stations = AllowAllStations{}
	}
	return &FraudDetector{attempts: attempts, stations: stations, clock: clock, opts: opts}
}

// Check runs the heuristics for one validation attempt. A non-empty reason
// means the attempt should be rejected as fraud. An error means the detector
// could not decide; the caller logs it and allows.
func (d *FraudDetector) Check(ctx context.Context, userID, code, stationID, clientIP string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	known, err := d.stations.Exists(ctx, stationID)
	if err != nil {
		return "", err
	}
	if !known {
		return "unknown station", nil
	}

	since := d.clock.Now().Add(-d.opts.Window)

	if d.opts.SameCodeAttempts > 0 {
		n, err := d.attempts.CountUserCodeAttempts(ctx, userID, code, since)
		if err != nil {
			return "", err
		}
		if n >= d.opts.SameCodeAttempts {
			return "repeated attempts on same code", nil
		}
	}

	if d.opts.DistinctCodesPerIP > 0 && clientIP != "" {
		n, err := d.attempts.CountDistinctCodesByIP(ctx, clientIP, since)
		if err != nil {
			return "", err
		}
		if n >= d.opts.DistinctCodesPerIP {
			return "code scanning from address", nil
		}
	}

	return "", nil
}
