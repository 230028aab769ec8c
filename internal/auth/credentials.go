package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mealtime/server/internal/model"
	"github.com/mealtime/server/internal/repo"
)

// CredentialStore keeps identities and their password hashes
type CredentialStore struct {
	users  repo.UserRepo
	hasher PasswordHasher

	dummyOnce sync.Once
	dummyHash string
	dummyErr  error
}

// NewCredentialStore creates a credential store
func NewCredentialStore(users repo.UserRepo, hasher PasswordHasher) *CredentialStore {
	return &CredentialStore{users: users, hasher: hasher}
}

// Exists reports whether the identity is registered
func (c *CredentialStore) Exists(ctx context.Context, identity model.Identity) (bool, error) {
	ok, err := c.users.Exists(ctx, identity)
	if err != nil {
		return false, fmt.Errorf("check identity: %w", err)
	}
	return ok, nil
}

// Create hashes the password and registers the identity. Losing a registration race
// is reported as ErrMobileAlreadyRegistered.
func (c *CredentialStore) Create(ctx context.Context, identity model.Identity, password string, detail model.UserDetail) (model.User, error) {
	hash, err := c.hasher.Hash(ctx, password)
	if err != nil {
		return model.User{}, err
	}

	user, err := c.users.Create(ctx, identity, hash, detail)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return model.User{}, ErrMobileAlreadyRegistered
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// VerifyPassword returns the user when the password matches. An unknown identity still
// pays for one bcrypt comparison so response time does not reveal registration.
func (c *CredentialStore) VerifyPassword(ctx context.Context, identity model.Identity, password string) (model.User, error) {
	user, err := c.users.GetByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.burn(ctx, password)
			return model.User{}, ErrMobileNotRegistered
		}
		return model.User{}, fmt.Errorf("load user: %w", err)
	}

	if err := c.hasher.Compare(ctx, user.PasswordHash, password); err != nil {
		return model.User{}, err
	}
	return user, nil
}

// Get loads a registered user by identity
func (c *CredentialStore) Get(ctx context.Context, identity model.Identity) (model.User, error) {
	user, err := c.users.GetByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, ErrMobileNotRegistered
		}
		return model.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// GetByID loads a user by id
func (c *CredentialStore) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	user, err := c.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, ErrMobileNotRegistered
		}
		return model.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// UpdatePassword replaces the user's password
func (c *CredentialStore) UpdatePassword(ctx context.Context, userID uuid.UUID, password string) error {
	hash, err := c.hasher.Hash(ctx, password)
	if err != nil {
		return err
	}
	if err := c.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMobileNotRegistered
		}
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (c *CredentialStore) burn(ctx context.Context, password string) {
	c.dummyOnce.Do(func() {
		c.dummyHash, c.dummyErr = c.hasher.Hash(context.Background(), "mealtime-dummy-password")
	})
	if c.dummyErr != nil {
		return
	}
	_ = c.hasher.Compare(ctx, c.dummyHash, password)
}
