package auth

import "errors"

// Precondition failures surfaced to clients. Each maps to a stable code via Code.
var (
	ErrMobileAlreadyRegistered = errors.New("mobile already registered")
	ErrMobileNotRegistered     = errors.New("mobile not registered")
	ErrPasswordIncorrect       = errors.New("password incorrect")
	ErrInvalidOTP              = errors.New("invalid otp")
)

var (
	// ErrInvalidToken is returned for any session token that fails verification
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnauthorized is returned when a protected operation has no valid session
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPasswordTooLong is returned for passwords bcrypt cannot hash whole
	ErrPasswordTooLong = errors.New("password too long")
)

// Machine-readable codes clients switch on
const (
	CodeMobileAlreadyRegistered = "MOBILE-ALREADY-REGISTERED"
	CodeMobileNotRegistered     = "MOBILE-NOT-REGISTERED"
	CodePasswordIncorrect       = "PASSWORD-INCORRECT"
	CodeInvalidOTP              = "INVALID-OTP"
	CodeUnauthorized            = "UNAUTHORIZED"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrMobileAlreadyRegistered, CodeMobileAlreadyRegistered},
	{ErrMobileNotRegistered, CodeMobileNotRegistered},
	{ErrPasswordIncorrect, CodePasswordIncorrect},
	{ErrInvalidOTP, CodeInvalidOTP},
}

// Code returns the client-facing code of a precondition failure, or "" if err is not one
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// IsPrecondition reports whether err is a recoverable caller error
func IsPrecondition(err error) bool {
	return Code(err) != ""
}
