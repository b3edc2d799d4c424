// Package drinks holds the drink model and the store contract shared by the
// persistence backends.
package drinks

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no drink has the requested id.
	ErrNotFound = errors.New("drinks: not found")
	// ErrConflict is returned when a title is already taken.
	ErrConflict = errors.New("drinks: title already exists")
	// ErrInvalid is returned for drinks failing Validate.
	ErrInvalid = errors.New("drinks: invalid drink")
)

// Ingredient is one layer of a drink's recipe.
type Ingredient struct {
	Name  string `json:"name" jsonschema:"minLength=1"`
	Color string `json:"color" jsonschema:"minLength=1"`
	Parts int    `json:"parts" jsonschema:"minimum=1"`
}

// Drink is a titled recipe.
type Drink struct {
	ID     int64        `json:"id"`
	Title  string       `json:"title"`
	Recipe []Ingredient `json:"recipe"`
}

// ShortIngredient is the public projection of an ingredient.
type ShortIngredient struct {
	Color string `json:"color"`
	Parts int    `json:"parts"`
}

// ShortDrink is the representation served to anonymous callers.
type ShortDrink struct {
	ID     int64             `json:"id"`
	Title  string            `json:"title"`
	Recipe []ShortIngredient `json:"recipe"`
}

// Short omits ingredient names.
func (d Drink) Short() ShortDrink {
	out := ShortDrink{ID: d.ID, Title: d.Title, Recipe: make([]ShortIngredient, 0, len(d.Recipe))}
	for _, in := range d.Recipe {
		out.Recipe = append(out.Recipe, ShortIngredient{Color: in.Color, Parts: in.Parts})
	}
	return out
}

// Long is the full representation.
func (d Drink) Long() Drink {
	out := d
	out.Recipe = append(make([]Ingredient, 0, len(d.Recipe)), d.Recipe...)
	return out
}

// Validate checks the fields a drink must have before it is stored.
func (d Drink) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if len(d.Recipe) == 0 {
		return fmt.Errorf("%w: recipe needs at least one ingredient", ErrInvalid)
	}
	for i, in := range d.Recipe {
		if strings.TrimSpace(in.Color) == "" {
			return fmt.Errorf("%w: ingredient %d has no color", ErrInvalid, i)
		}
		if in.Parts <= 0 {
			return fmt.Errorf("%w: ingredient %d needs a positive number of parts", ErrInvalid, i)
		}
	}
	return nil
}

// Patch carries a partial update. Nil fields are left unchanged.
type Patch struct {
	Title  *string       `json:"title,omitempty"`
	Recipe *[]Ingredient `json:"recipe,omitempty"`
}

// Apply returns d with p applied.
func (p Patch) Apply(d Drink) Drink {
	if p.Title != nil && *p.Title != "" {
		d.Title = *p.Title
	}
	if p.Recipe != nil && len(*p.Recipe) > 0 {
		d.Recipe = append([]Ingredient(nil), (*p.Recipe)...)
	}
	return d
}

// Store persists drinks. Titles are unique across the store.
type Store interface {
	List(ctx context.Context) ([]Drink, error)
	Get(ctx context.Context, id int64) (Drink, error)
	// Create assigns an id and returns the stored drink.
	Create(ctx context.Context, d Drink) (Drink, error)
	// Update replaces the drink with d.ID.
	Update(ctx context.Context, d Drink) (Drink, error)
	Delete(ctx context.Context, id int64) error
}
