// Package provision creates the records every new account starts with.
package provision

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mealtime/server/internal/model"
	"github.com/mealtime/server/internal/repo"
)

// Provisioner creates default records for a newly registered user
type Provisioner interface {
	Provision(ctx context.Context, userID uuid.UUID) error
}

// DefaultMealTypes is the schedule a new user starts with
var DefaultMealTypes = []model.MealType{
	{Label: "Breakfast", Start: 8, End: 10},
	{Label: "Lunch", Start: 12, End: 14},
	{Label: "Snack", Start: 17, End: 19},
	{Label: "Dinner", Start: 20, End: 22},
}

// MealTypes provisions the default meal schedule
type MealTypes struct {
	mealTypes repo.MealTypeRepo
}

// NewMealTypes creates a meal type provisioner
func NewMealTypes(mealTypes repo.MealTypeRepo) *MealTypes {
	return &MealTypes{mealTypes: mealTypes}
}

// Provision inserts all default meal types in one transaction
func (p *MealTypes) Provision(ctx context.Context, userID uuid.UUID) error {
	defaults := make([]model.MealType, len(DefaultMealTypes))
	copy(defaults, DefaultMealTypes)
	if _, err := p.mealTypes.CreateMany(ctx, userID, defaults); err != nil {
		return fmt.Errorf("provision meal types: %w", err)
	}
	return nil
}
