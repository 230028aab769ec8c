package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mealtime/server/internal/model"
)

// MemoryUserRepo is an in-memory UserRepo for tests. Create enforces identity
// uniqueness under a mutex the way the Postgres constraint does.
type MemoryUserRepo struct {
	mu         sync.Mutex
	byID       map[uuid.UUID]model.User
	byIdentity map[model.Identity]uuid.UUID
}

// NewMemoryUserRepo creates an empty MemoryUserRepo
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:       make(map[uuid.UUID]model.User),
		byIdentity: make(map[model.Identity]uuid.UUID),
	}
}

func (m *MemoryUserRepo) Exists(_ context.Context, identity model.Identity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byIdentity[identity]
	return ok, nil
}

func (m *MemoryUserRepo) Create(_ context.Context, identity model.Identity, passwordHash string, detail model.UserDetail) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byIdentity[identity]; ok {
		return model.User{}, ErrDuplicate
	}
	now := time.Now().UTC()
	user := model.User{
		ID:           uuid.New(),
		CountryCode:  identity.CountryCode,
		Mobile:       identity.Mobile,
		PasswordHash: passwordHash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
		Detail:       detail,
	}
	m.byID[user.ID] = user
	m.byIdentity[identity] = user.ID
	return user, nil
}

func (m *MemoryUserRepo) GetByIdentity(_ context.Context, identity model.Identity) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byIdentity[identity]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return m.byID[id], nil
}

func (m *MemoryUserRepo) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return user, nil
}

func (m *MemoryUserRepo) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now().UTC()
	m.byID[id] = user
	return nil
}

// Count returns the number of stored users
func (m *MemoryUserRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memoryOtpKey struct {
	channel  model.OtpChannel
	identity string
	code     string
}

// MemoryOtpRepo is an in-memory OtpRepo for tests
type MemoryOtpRepo struct {
	mu    sync.Mutex
	codes map[memoryOtpKey][]time.Time
}

// NewMemoryOtpRepo creates an empty MemoryOtpRepo
func NewMemoryOtpRepo() *MemoryOtpRepo {
	return &MemoryOtpRepo{codes: make(map[memoryOtpKey][]time.Time)}
}

func (m *MemoryOtpRepo) Create(_ context.Context, channel model.OtpChannel, identity, code string, createdAt time.Time) (model.OneTimeCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryOtpKey{channel, identity, code}
	m.codes[k] = append(m.codes[k], createdAt.UTC())
	return model.OneTimeCode{
		ID:        uuid.New(),
		Channel:   channel,
		Identity:  identity,
		Code:      code,
		CreatedAt: createdAt.UTC(),
	}, nil
}

func (m *MemoryOtpRepo) Consume(_ context.Context, channel model.OtpChannel, identity, code string, notBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryOtpKey{channel, identity, code}
	entries := m.codes[k]
	for i, createdAt := range entries {
		if createdAt.Before(notBefore) {
			continue
		}
		entries = append(entries[:i], entries[i+1:]...)
		if len(entries) == 0 {
			delete(m.codes, k)
		} else {
			m.codes[k] = entries
		}
		return true, nil
	}
	return false, nil
}

func (m *MemoryOtpRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, entries := range m.codes {
		kept := entries[:0]
		for _, createdAt := range entries {
			if createdAt.Before(before) {
				n++
				continue
			}
			kept = append(kept, createdAt)
		}
		if len(kept) == 0 {
			delete(m.codes, k)
		} else {
			m.codes[k] = kept
		}
	}
	return n, nil
}

// Len returns the number of unconsumed codes
func (m *MemoryOtpRepo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, entries := range m.codes {
		n += len(entries)
	}
	return n
}

// MemoryMealTypeRepo is an in-memory MealTypeRepo for tests
type MemoryMealTypeRepo struct {
	mu     sync.Mutex
	byUser map[uuid.UUID][]model.MealType
}

// NewMemoryMealTypeRepo creates an empty MemoryMealTypeRepo
func NewMemoryMealTypeRepo() *MemoryMealTypeRepo {
	return &MemoryMealTypeRepo{byUser: make(map[uuid.UUID][]model.MealType)}
}

func (m *MemoryMealTypeRepo) CreateMany(_ context.Context, userID uuid.UUID, mealTypes []model.MealType) ([]model.MealType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.byUser[userID]
	seen := make(map[string]bool, len(existing))
	for _, mt := range existing {
		seen[mt.Label] = true
	}
	created := make([]model.MealType, 0, len(mealTypes))
	for _, mt := range mealTypes {
		if seen[mt.Label] {
			return nil, ErrDuplicate
		}
		seen[mt.Label] = true
		mt.ID = uuid.New()
		mt.UserID = userID
		mt.CreatedAt = time.Now().UTC()
		created = append(created, mt)
	}
	m.byUser[userID] = append(existing, created...)
	return created, nil
}

func (m *MemoryMealTypeRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]model.MealType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.MealType(nil), m.byUser[userID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}
