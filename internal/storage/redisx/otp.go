package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/conscious-checkout/internal/domain/otp"
)

var _ otp.Store = (*OTPStore)(nil)

// OTPStore keeps one code per email. SET with EX gives an atomic upsert and
// lets Redis expire stale codes.
type OTPStore struct {
	rdb redis.Cmdable
}

// NewOTPStore creates an OTPStore.
func NewOTPStore(rdb redis.Cmdable) *OTPStore {
	return &OTPStore{rdb: rdb}
}

// Save overwrites the code for email and resets its expiry.
func (s *OTPStore) Save(ctx context.Context, email string, rec otp.Record, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLOTP
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode otp")
	}
	if err := s.rdb.Set(ctx, fmt.Sprintf(KeyOTP, email), data, ttl).Err(); err != nil {
		return fmt.Errorf("saving otp for %q: %w", email, err)
	}
	return nil
}

// Get returns the live code for email.
func (s *OTPStore) Get(ctx context.Context, email string) (*otp.Record, error) {
	data, err := s.rdb.Get(ctx, fmt.Sprintf(KeyOTP, email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, otp.ErrNotFound
		}
		return nil, fmt.Errorf("getting otp for %q: %w", email, err)
	}

	var rec otp.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "decode otp")
	}
	return &rec, nil
}

// consumeOTP deletes the key only while it still holds ARGV[1], so a code
// replaced by a resend survives a late verification of the old one.
var consumeOTP = redis.NewScript(`
local data = redis.call("GET", KEYS[1])
if not data then
	return 0
end
local rec = cjson.decode(data)
if rec.code ~= ARGV[1] then
	return 0
end
return redis.call("DEL", KEYS[1])
`)

// Consume deletes the code if it is still code. Only the caller whose
// script removed the key gets true, so a code is used at most once.
func (s *OTPStore) Consume(ctx context.Context, email, code string) (bool, error) {
	n, err := consumeOTP.Run(ctx, s.rdb, []string{fmt.Sprintf(KeyOTP, email)}, code).Int64()
	if err != nil {
		return false, fmt.Errorf("consuming otp for %q: %w", email, err)
	}
	return n == 1, nil
}
