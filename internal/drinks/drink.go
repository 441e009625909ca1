// Package drinks holds the coffee shop menu: drinks, their recipes, the
// payload rules for creating and patching them and the Store they live in.
package drinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	ErrNotFound      = errors.New("drink not found")
	ErrUnprocessable = errors.New("unprocessable drink")
	// ErrDuplicateTitle is an ErrUnprocessable.
	ErrDuplicateTitle = fmt.Errorf("%w: title already exists", ErrUnprocessable)
)

// Ingredient is one colored layer of a drink.
type Ingredient struct {
	Color string `json:"color"`
	Name  string `json:"name"`
	Parts int    `json:"parts"`
}

func (i Ingredient) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Color, validation.Required),
		validation.Field(&i.Name, validation.Required),
		validation.Field(&i.Parts, validation.Required, validation.Min(1)),
	)
}

// Recipe is an ordered list of ingredients. It decodes from either a JSON
// list or a single ingredient object.
type Recipe []Ingredient

func (r *Recipe) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var one Ingredient
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*r = Recipe{one}
		return nil
	}
	var list []Ingredient
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*r = list
	return nil
}

type Drink struct {
	ID     int64
	Title  string
	Recipe Recipe
}

// ShortIngredient is an ingredient without its name.
type ShortIngredient struct {
	Color string `json:"color"`
	Parts int    `json:"parts"`
}

// Short is the public representation of a drink.
type Short struct {
	ID     int64             `json:"id"`
	Title  string            `json:"title"`
	Recipe []ShortIngredient `json:"recipe"`
}

// Long is the full representation of a drink.
type Long struct {
	ID     int64        `json:"id"`
	Title  string       `json:"title"`
	Recipe []Ingredient `json:"recipe"`
}

func (d Drink) Short() Short {
	out := Short{ID: d.ID, Title: d.Title, Recipe: make([]ShortIngredient, 0, len(d.Recipe))}
	for _, i := range d.Recipe {
		out.Recipe = append(out.Recipe, ShortIngredient{Color: i.Color, Parts: i.Parts})
	}
	return out
}

func (d Drink) Long() Long {
	recipe := make([]Ingredient, len(d.Recipe))
	copy(recipe, d.Recipe)
	return Long{ID: d.ID, Title: d.Title, Recipe: recipe}
}

// Input is a create or patch payload. Nil fields were absent.
type Input struct {
	Title  *string `json:"title"`
	Recipe *Recipe `json:"recipe"`
}

// DecodeInput parses a request body. Every failure wraps ErrUnprocessable.
func DecodeInput(body []byte) (Input, error) {
	var in Input
	if err := json.Unmarshal(body, &in); err != nil {
		return Input{}, fmt.Errorf("%w: %v", ErrUnprocessable, err)
	}
	return in, nil
}

// ValidateCreate requires both title and recipe.
func (in Input) ValidateCreate() error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 80)),
		validation.Field(&in.Recipe, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnprocessable, err)
	}
	return nil
}

// ValidatePatch checks whichever fields are present.
func (in Input) ValidatePatch() error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.NilOrNotEmpty, validation.Length(1, 80)),
		validation.Field(&in.Recipe, validation.NilOrNotEmpty),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnprocessable, err)
	}
	return nil
}

// Drink builds a new drink from a validated create payload.
func (in Input) Drink() Drink {
	var d Drink
	return in.Apply(d)
}

// Apply overlays the present fields onto d.
func (in Input) Apply(d Drink) Drink {
	if in.Title != nil {
		d.Title = *in.Title
	}
	if in.Recipe != nil {
		d.Recipe = append(Recipe(nil), (*in.Recipe)...)
	}
	return d
}

// Store persists drinks. Titles are unique; implementations report a
// clash as ErrDuplicateTitle and a missing id as ErrNotFound.
type Store interface {
	List(ctx context.Context) ([]Drink, error)
	Get(ctx context.Context, id int64) (Drink, error)
	Create(ctx context.Context, d Drink) (Drink, error)
	Update(ctx context.Context, d Drink) (Drink, error)
	Delete(ctx context.Context, id int64) error
}

// Sample is the drink seeded into an empty menu.
func Sample() Drink {
	return Drink{
		Title:  "water",
		Recipe: Recipe{{Name: "water", Color: "blue", Parts: 1}},
	}
}

// Seed inserts Sample unless a drink with its title already exists.
func Seed(ctx context.Context, s Store) error {
	if _, err := s.Create(ctx, Sample()); err != nil && !errors.Is(err, ErrDuplicateTitle) {
		return fmt.Errorf("seed sample drink: %w", err)
	}
	return nil
}
