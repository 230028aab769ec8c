package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/mealtime/server/internal/logging"
	"github.com/mealtime/server/internal/model"
	"github.com/mealtime/server/internal/repo"
	"github.com/mealtime/server/internal/sms"
)

const (
	otpMin = 1000
	otpMax = 9999
)

// OtpLedger issues one-time codes and consumes them on verification
type OtpLedger struct {
	otps   repo.OtpRepo
	sender sms.Sender
	maxAge time.Duration
	logger *zap.Logger

	now      func() time.Time
	generate func() (string, error)
}

// NewOtpLedger creates a ledger. Codes older than maxAge are rejected; maxAge <= 0 disables expiry.
func NewOtpLedger(otps repo.OtpRepo, sender sms.Sender, maxAge time.Duration, logger *zap.Logger) *OtpLedger {
	return &OtpLedger{
		otps:     otps,
		sender:   sender,
		maxAge:   maxAge,
		logger:   logger,
		now:      time.Now,
		generate: generateOTPCode,
	}
}

// Issue stores a fresh code for the identity and dispatches it. Delivery failures are
// logged and do not fail the call; the code stays valid either way.
func (l *OtpLedger) Issue(ctx context.Context, identity model.Identity, channel model.OtpChannel, name string) (string, error) {
	code, err := l.generate()
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}

	target := identity.String()
	if _, err := l.otps.Create(ctx, channel, target, code, l.now()); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}

	if channel == model.OtpChannelMobile {
		msg := sms.Message{Mobile: target, Name: name, Code: code}
		if err := l.sender.Send(ctx, msg); err != nil {
			l.logger.Warn("otp dispatch failed", logging.Phone(target), zap.Error(err))
		}
	}
	return code, nil
}

// Verify consumes the matching code. A wrong code, a reused code, an expired code and a
// wrong identity are all reported as ErrInvalidOTP.
func (l *OtpLedger) Verify(ctx context.Context, identity model.Identity, channel model.OtpChannel, code string) error {
	if code == "" {
		return ErrInvalidOTP
	}

	var notBefore time.Time
	if l.maxAge > 0 {
		notBefore = l.now().Add(-l.maxAge)
	}

	ok, err := l.otps.Consume(ctx, channel, identity.String(), code, notBefore)
	if err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	if !ok {
		return ErrInvalidOTP
	}
	return nil
}

// PurgeExpired deletes codes that can no longer be consumed
func (l *OtpLedger) PurgeExpired(ctx context.Context) (int64, error) {
	if l.maxAge <= 0 {
		return 0, nil
	}
	return l.otps.DeleteExpired(ctx, l.now().Add(-l.maxAge))
}

// generateOTPCode returns a uniformly random code in [1000, 9999]
func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+otpMin), nil
}
