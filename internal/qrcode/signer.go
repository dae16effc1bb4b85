package qrcode

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SignedFields is the canonical set of coupon fields covered by the
// signature. Altering any of them invalidates the signature.
type SignedFields struct {
	Payload         string
	DiscountAmount  decimal.Decimal
	DiscountPercent decimal.Decimal // zero for fixed-amount coupons
	RaffleTickets   int
	ValidFrom       time.Time
	ValidUntil      time.Time
	Terms           string
}

// canonical builds the string the MAC is computed over. Field order is fixed;
// times are UTC RFC3339 so the representation is stable across zones.
func (f SignedFields) canonical() string {
	return strings.Join([]string{
		f.Payload,
		f.DiscountAmount.String(),
		f.DiscountPercent.String(),
		strconv.Itoa(f.RaffleTickets),
		f.ValidFrom.UTC().Format(time.RFC3339),
		f.ValidUntil.UTC().Format(time.RFC3339),
		f.Terms,
	}, "|")
}

// Signer computes and verifies HMAC-SHA-256 signatures over canonical coupon
// data. The secret is loaded once at startup and read-only afterwards, so a
// single Signer is safe for concurrent use.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer with the given secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the hex-encoded HMAC-SHA-256 of the canonical field string.
func (s *Signer) Sign(fields SignedFields) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(fields.canonical()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature from the given fields and compares it to
// the presented one in constant time. It never trusts an embedded signature.
func (s *Signer) Verify(fields SignedFields, signature string) bool {
	presented, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(fields.canonical()))
	return hmac.Equal(mac.Sum(nil), presented)
}
