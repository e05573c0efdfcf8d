// Package otp implements the one-time code gate that proves control of an
// email address before checkout.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/conscious-checkout/internal/domain/contact"
)

// DefaultTTL is how long a code stays valid.
const DefaultTTL = 10 * time.Minute

const (
	codeMin = 100_000
	codeMax = 999_999
)

var (
	// ErrNotFound is returned when no code is stored for the email, either
	// because none was sent or because it expired.
	ErrNotFound = errors.New("otp not found or expired")
	// ErrMismatch is returned when the submitted code differs from the stored one.
	ErrMismatch = errors.New("invalid otp")
	// ErrDelivery is returned when the code was stored but the email could
	// not be sent.
	ErrDelivery = errors.New("failed to deliver otp")
	// ErrEmailRequired is returned when Send is called without an email.
	ErrEmailRequired = errors.New("email is required")
)

// Record is a stored code.
type Record struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store keeps at most one live code per email. Save overwrites any previous
// code and resets its expiry.
type Store interface {
	Save(ctx context.Context, email string, rec Record, ttl time.Duration) error
	// Get returns ErrNotFound when nothing is stored.
	Get(ctx context.Context, email string) (*Record, error)
	// Consume removes the stored code only if it still equals code and
	// reports whether this call removed it.
	Consume(ctx context.Context, email, code string) (bool, error)
}

// Sender delivers a code to the customer.
type Sender interface {
	SendCode(ctx context.Context, email, name, code string) error
}

// Service issues and verifies codes.
type Service struct {
	store  Store
	sender Sender
	ttl    time.Duration
	rand   io.Reader
	now    func() time.Time
}

// NewService creates an OTP service. A zero ttl selects DefaultTTL.
func NewService(store Store, sender Sender, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		store:  store,
		sender: sender,
		ttl:    ttl,
		rand:   rand.Reader,
		now:    time.Now,
	}
}

// TTL returns the validity window of issued codes.
func (s *Service) TTL() time.Duration { return s.ttl }

// Send generates a fresh code for email, stores it and mails it. When the
// mail fails the stored code is kept and ErrDelivery is returned.
func (s *Service) Send(ctx context.Context, email, name string) error {
	email = contact.NormalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}

	code, err := s.generate()
	if err != nil {
		return errors.Wrap(err, "generate code")
	}

	rec := Record{Code: code, CreatedAt: s.now()}
	if err := s.store.Save(ctx, email, rec, s.ttl); err != nil {
		return errors.Wrap(err, "save code")
	}

	if err := s.sender.SendCode(ctx, email, strings.TrimSpace(name), code); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

// Verify checks code against the stored one and consumes it on a match.
// A mismatch leaves the stored code in place.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	email = contact.NormalizeEmail(email)
	code = strings.TrimSpace(code)

	rec, err := s.store.Get(ctx, email)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
		return ErrMismatch
	}

	removed, err := s.store.Consume(ctx, email, rec.Code)
	if err != nil {
		return errors.Wrap(err, "consume code")
	}
	if !removed {
		// Consumed by another verification or replaced by a resend.
		return ErrNotFound
	}
	return nil
}

func (s *Service) generate() (string, error) {
	n, err := rand.Int(s.rand, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}
