package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/mealtime/server/internal/model"
)

// MealTypeRepo defines the interface for meal type repository operations
type MealTypeRepo interface {
	CreateMany(ctx context.Context, userID uuid.UUID, mealTypes []model.MealType) ([]model.MealType, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.MealType, error)
}

type mealTypeRepo struct {
	db *sql.DB
}

// NewMealTypeRepo creates a new MealTypeRepo instance
func NewMealTypeRepo(db *sql.DB) MealTypeRepo {
	return &mealTypeRepo{db: db}
}

// CreateMany inserts all meal types for a user in one transaction
func (r *mealTypeRepo) CreateMany(ctx context.Context, userID uuid.UUID, mealTypes []model.MealType) ([]model.MealType, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	created := make([]model.MealType, 0, len(mealTypes))
	for _, mt := range mealTypes {
		mt.UserID = userID
		err := tx.QueryRowContext(ctx, `
			INSERT INTO meal_types (user_id, label, start_hour, end_hour)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`, userID, mt.Label, mt.Start, mt.End).Scan(&mt.ID, &mt.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ErrDuplicate
			}
			return nil, fmt.Errorf("failed to create meal type %q: %w", mt.Label, err)
		}
		created = append(created, mt)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// ListByUser returns a user's meal types ordered by start hour
func (r *mealTypeRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.MealType, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, label, start_hour, end_hour, created_at
		FROM meal_types
		WHERE user_id = $1
		ORDER BY start_hour ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query meal types: %w", err)
	}
	defer rows.Close()

	var out []model.MealType
	for rows.Next() {
		var mt model.MealType
		if err := rows.Scan(&mt.ID, &mt.UserID, &mt.Label, &mt.Start, &mt.End, &mt.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan meal type: %w", err)
		}
		out = append(out, mt)
	}
	return out, rows.Err()
}
