package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mealtime/server/internal/model"
)

// UserRepo defines the interface for user repository operations.
// Identities are passed and returned in plaintext; encryption happens inside the repo.
type UserRepo interface {
	Exists(ctx context.Context, identity model.Identity) (bool, error)
	Create(ctx context.Context, identity model.Identity, passwordHash string, detail model.UserDetail) (model.User, error)
	GetByIdentity(ctx context.Context, identity model.Identity) (model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

type userRepo struct {
	db     *sql.DB
	cipher FieldCipher
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB, cipher FieldCipher) UserRepo {
	return &userRepo{db: db, cipher: cipher}
}

const selectUser = `
	SELECT u.id, u.country_code, u.mobile, u.password_hash, u.active, u.created_at, u.updated_at,
	       COALESCE(d.first, ''), COALESCE(d.last, ''), COALESCE(d.email, '')
	FROM users u
	LEFT JOIN user_details d ON d.user_id = u.id
`

// Exists reports whether a user is registered with the identity
func (r *userRepo) Exists(ctx context.Context, identity model.Identity) (bool, error) {
	cc, mobile := r.encodeIdentity(identity)

	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE country_code = $1 AND mobile = $2)
	`, cc, mobile).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return exists, nil
}

// Create inserts the user and its detail row in one transaction. A second registration
// for the same identity fails with ErrDuplicate via the users_identity_key constraint.
func (r *userRepo) Create(ctx context.Context, identity model.Identity, passwordHash string, detail model.UserDetail) (model.User, error) {
	cc, mobile := r.encodeIdentity(identity)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.User{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	user := model.User{
		CountryCode:  identity.CountryCode,
		Mobile:       identity.Mobile,
		PasswordHash: passwordHash,
		Active:       true,
		Detail:       detail,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (country_code, mobile, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, cc, mobile, passwordHash).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, ErrDuplicate
		}
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}

	first, last, email := r.encodeDetail(detail)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_details (user_id, first, last, email)
		VALUES ($1, $2, $3, $4)
	`, user.ID, first, last, email)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to insert user detail: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return model.User{}, ErrDuplicate
		}
		return model.User{}, fmt.Errorf("commit: %w", err)
	}
	return user, nil
}

// GetByIdentity retrieves a user by phone identity
func (r *userRepo) GetByIdentity(ctx context.Context, identity model.Identity) (model.User, error) {
	cc, mobile := r.encodeIdentity(identity)
	row := r.db.QueryRowContext(ctx, selectUser+` WHERE u.country_code = $1 AND u.mobile = $2`, cc, mobile)
	return r.scanUser(row)
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := r.db.QueryRowContext(ctx, selectUser+` WHERE u.id = $1`, id)
	return r.scanUser(row)
}

// UpdatePassword replaces the stored password hash
func (r *userRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1
	`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) scanUser(row *sql.Row) (model.User, error) {
	var user model.User
	var cc, mobile, first, last, email string
	err := row.Scan(
		&user.ID,
		&cc,
		&mobile,
		&user.PasswordHash,
		&user.Active,
		&user.CreatedAt,
		&user.UpdatedAt,
		&first,
		&last,
		&email,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}

	if user.CountryCode, err = r.cipher.Decrypt(cc); err != nil {
		return model.User{}, fmt.Errorf("decrypt country code: %w", err)
	}
	if user.Mobile, err = r.cipher.Decrypt(mobile); err != nil {
		return model.User{}, fmt.Errorf("decrypt mobile: %w", err)
	}
	if user.Detail, err = r.decodeDetail(first, last, email); err != nil {
		return model.User{}, err
	}
	return user, nil
}

func (r *userRepo) encodeIdentity(identity model.Identity) (countryCode, mobile string) {
	return r.cipher.Encrypt(identity.CountryCode), r.cipher.Encrypt(identity.Mobile)
}

// encodeDetail encrypts the non-empty detail fields; empty ones are stored as NULL
func (r *userRepo) encodeDetail(d model.UserDetail) (first, last, email sql.NullString) {
	enc := func(v string) sql.NullString {
		if v == "" {
			return sql.NullString{}
		}
		return sql.NullString{String: r.cipher.Encrypt(v), Valid: true}
	}
	return enc(d.First), enc(d.Last), enc(d.Email)
}

func (r *userRepo) decodeDetail(first, last, email string) (model.UserDetail, error) {
	var d model.UserDetail
	for _, f := range []struct {
		dst *string
		src string
	}{{&d.First, first}, {&d.Last, last}, {&d.Email, email}} {
		if f.src == "" {
			continue
		}
		v, err := r.cipher.Decrypt(f.src)
		if err != nil {
			return model.UserDetail{}, fmt.Errorf("decrypt user detail: %w", err)
		}
		*f.dst = v
	}
	return d, nil
}
