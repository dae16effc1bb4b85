// Package qrcode encodes, decodes and signs the QR payloads printed on
// fuel-station coupons. The wire format is parsed by external scanners and
// mobile clients, so field order and widths are load-bearing.
package qrcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"time"
)

const (
	// Prefix and Version open every QR payload.
	Prefix  = "FUEL"
	Version = "V1"

	// timestampLayout is the embedded generation timestamp, always UTC.
	timestampLayout = "20060102150405"

	tokenLength = 8
	tokenChars  = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// payloadPattern is the exact payload shape:
// PREFIX_VERSION_{campaignSeq:06d}_{yyyyMMddHHmmss}_{token8 base36}_{couponCode}
var payloadPattern = regexp.MustCompile(
	`^` + Prefix + `_` + Version + `_(\d{6})_(\d{14})_([0-9a-z]{8})_([A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4})$`)

// ParseError is the typed failure returned when a payload does not match the
// wire format. It never wraps a panic; malformed input is an expected case.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("qr payload parse error: %s: %s", e.Field, e.Reason)
}

// Payload is a decoded QR payload.
type Payload struct {
	CampaignSeq int64
	GeneratedAt time.Time
	Token       string
	CouponCode  string
}

// Raw re-encodes the payload into its wire form.
func (p Payload) Raw() string {
	return Encode(p.CampaignSeq, p.GeneratedAt, p.Token, p.CouponCode)
}

// Fresh reports whether the embedded generation timestamp is within maxAge of
// now. Stale payloads are rejected even when correctly signed, defending
// against codes leaked long before use.
func (p Payload) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(p.GeneratedAt) <= maxAge
}

// Encode builds the wire payload string for a coupon.
func Encode(campaignSeq int64, generatedAt time.Time, token, couponCode string) string {
	return fmt.Sprintf("%s_%s_%06d_%s_%s_%s",
		Prefix, Version, campaignSeq, generatedAt.UTC().Format(timestampLayout), token, couponCode)
}

// Decode parses a wire payload. Any string not matching the exact format
// returns a *ParseError.
func Decode(raw string) (*Payload, error) {
	m := payloadPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, &ParseError{Field: "payload", Reason: "does not match wire format"}
	}

	seq, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil, &ParseError{Field: "campaign", Reason: "not a number"}
	}

	ts, err := time.ParseInLocation(timestampLayout, m[2], time.UTC)
	if err != nil {
		return nil, &ParseError{Field: "timestamp", Reason: "invalid timestamp"}
	}

	return &Payload{
		CampaignSeq: seq,
		GeneratedAt: ts,
		Token:       m[3],
		CouponCode:  m[4],
	}, nil
}

// NewToken generates the random 8-character base36 token embedded in payloads.
func NewToken() (string, error) {
	max := big.NewInt(int64(len(tokenChars)))
	buf := make([]byte, tokenLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate qr token: %w", err)
		}
		buf[i] = tokenChars[n.Int64()]
	}
	return string(buf), nil
}

// QRCode is the value object pairing a payload with its signature. Two QR
// codes are equal iff payload and signature match; regeneration produces a
// new value replacing the old one on the coupon.
type QRCode struct {
	Payload     string
	Signature   string
	GeneratedAt time.Time
}

// Equal reports value equality. The generation timestamp is informational and
// does not participate in equality.
func (q QRCode) Equal(other QRCode) bool {
	return q.Payload == other.Payload && q.Signature == other.Signature
}
