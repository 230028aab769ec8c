package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mealtime/server/internal/model"
)

// OtpRepo defines the interface for one-time code storage.
// Identity and code are passed in plaintext and encrypted by the implementation.
type OtpRepo interface {
	Create(ctx context.Context, channel model.OtpChannel, identity, code string, createdAt time.Time) (model.OneTimeCode, error)
	// Consume deletes the matching code created at or after notBefore and reports whether one existed.
	// At most one concurrent caller observes true for a given code.
	Consume(ctx context.Context, channel model.OtpChannel, identity, code string, notBefore time.Time) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type otpRepo struct {
	db     *sql.DB
	cipher FieldCipher
}

// NewOtpRepo creates a Postgres-backed OtpRepo
func NewOtpRepo(db *sql.DB, cipher FieldCipher) OtpRepo {
	return &otpRepo{db: db, cipher: cipher}
}

// Create stores a newly issued code
func (r *otpRepo) Create(ctx context.Context, channel model.OtpChannel, identity, code string, createdAt time.Time) (model.OneTimeCode, error) {
	otp := model.OneTimeCode{
		Channel:   channel,
		Identity:  r.cipher.Encrypt(identity),
		Code:      r.cipher.Encrypt(code),
		CreatedAt: createdAt.UTC(),
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO otp_codes (channel, identity, code, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, string(otp.Channel), otp.Identity, otp.Code, otp.CreatedAt).Scan(&otp.ID)
	if err != nil {
		return model.OneTimeCode{}, fmt.Errorf("insert otp: %w", err)
	}
	return otp, nil
}

// Consume deletes one matching row. The row is locked with SKIP LOCKED inside the same
// statement, so two concurrent calls for the same code can never both delete it.
func (r *otpRepo) Consume(ctx context.Context, channel model.OtpChannel, identity, code string, notBefore time.Time) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM otp_codes
		WHERE id = (
			SELECT id FROM otp_codes
			WHERE channel = $1 AND identity = $2 AND code = $3 AND created_at >= $4
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`, string(channel), r.cipher.Encrypt(identity), r.cipher.Encrypt(code), notBefore.UTC()).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("consume otp: %w", err)
	}
	return true, nil
}

// DeleteExpired removes codes created before the given time
func (r *otpRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE created_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired otp: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
