package redisx

import "time"

const (
	// KeyOTP holds the live verification code of an email: otp:{email} -> {"code","createdAt"}
	KeyOTP = "otp:%s"

	// KeySession holds a cart session: cart:session:{id} -> session JSON
	KeySession = "cart:session:%s"
)

var (
	TTLOTP     = 10 * time.Minute
	TTLSession = 30 * 24 * time.Hour
)
