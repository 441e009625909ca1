// Package postgres stores drinks in PostgreSQL through pgx. Recipes are
// kept as JSON text in a single column.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keksclan/coffeeshop/internal/drinks"
)

// DB is the subset of *pgxpool.Pool the store uses. pgxmock satisfies it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ DB = (*pgxpool.Pool)(nil)

const schema = `CREATE TABLE IF NOT EXISTS drinks (
	id     BIGSERIAL PRIMARY KEY,
	title  TEXT NOT NULL UNIQUE,
	recipe TEXT NOT NULL
)`

type Store struct {
	db DB
}

var _ drinks.Store = (*Store)(nil)

func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the drinks table if it is missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create drinks table: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]drinks.Drink, error) {
	rows, err := s.db.Query(ctx, `SELECT id, title, recipe FROM drinks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list drinks: %w", err)
	}
	defer rows.Close()

	var out []drinks.Drink
	for rows.Next() {
		d, err := scanDrink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list drinks: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (drinks.Drink, error) {
	row := s.db.QueryRow(ctx, `SELECT id, title, recipe FROM drinks WHERE id = $1`, id)
	d, err := scanDrink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return drinks.Drink{}, drinks.ErrNotFound
	}
	return d, err
}

func (s *Store) Create(ctx context.Context, d drinks.Drink) (drinks.Drink, error) {
	recipe, err := encodeRecipe(d.Recipe)
	if err != nil {
		return drinks.Drink{}, err
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO drinks (title, recipe) VALUES ($1, $2) RETURNING id`,
		d.Title, recipe,
	).Scan(&d.ID)
	if err != nil {
		if isDuplicate(err) {
			return drinks.Drink{}, fmt.Errorf("drink %q: %w", d.Title, drinks.ErrDuplicateTitle)
		}
		return drinks.Drink{}, fmt.Errorf("create drink: %w", err)
	}
	return d, nil
}

func (s *Store) Update(ctx context.Context, d drinks.Drink) (drinks.Drink, error) {
	recipe, err := encodeRecipe(d.Recipe)
	if err != nil {
		return drinks.Drink{}, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE drinks SET title = $2, recipe = $3 WHERE id = $1`,
		d.ID, d.Title, recipe,
	)
	if err != nil {
		if isDuplicate(err) {
			return drinks.Drink{}, fmt.Errorf("drink %q: %w", d.Title, drinks.ErrDuplicateTitle)
		}
		return drinks.Drink{}, fmt.Errorf("update drink: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return drinks.Drink{}, drinks.ErrNotFound
	}
	return d, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM drinks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete drink: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return drinks.ErrNotFound
	}
	return nil
}

func scanDrink(row pgx.Row) (drinks.Drink, error) {
	var (
		d      drinks.Drink
		recipe string
	)
	if err := row.Scan(&d.ID, &d.Title, &recipe); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return d, err
		}
		return d, fmt.Errorf("scan drink: %w", err)
	}
	if err := json.Unmarshal([]byte(recipe), &d.Recipe); err != nil {
		return d, fmt.Errorf("decode recipe of drink %d: %w", d.ID, err)
	}
	return d, nil
}

func encodeRecipe(r drinks.Recipe) (string, error) {
	if r == nil {
		r = drinks.Recipe{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode recipe: %w", err)
	}
	return string(b), nil
}

// isDuplicate reports a unique_violation (23505).
func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
