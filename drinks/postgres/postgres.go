// Package postgres implements drinks.Store with pgx. It expects the table
//
//	CREATE TABLE drink (
//	    id     bigserial PRIMARY KEY,
//	    title  text UNIQUE NOT NULL,
//	    recipe jsonb NOT NULL
//	);
//
// to exist already.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ggoodman/coffeeshop-go/drinks"
)

const uniqueViolation = "23505"

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a drinks.Store backed by postgres.
type Store struct {
	db DB
}

// New returns a store using db.
func New(db DB) *Store {
	return &Store{db: db}
}

func (s *Store) List(ctx context.Context) ([]drinks.Drink, error) {
	rows, err := s.db.Query(ctx, `SELECT id, title, recipe FROM drink ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list drinks: %w", err)
	}
	defer rows.Close()

	out := []drinks.Drink{}
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
	row := s.db.QueryRow(ctx, `SELECT id, title, recipe FROM drink WHERE id = $1`, id)
	d, err := scanDrink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return drinks.Drink{}, drinks.ErrNotFound
	}
	return d, err
}

func (s *Store) Create(ctx context.Context, d drinks.Drink) (drinks.Drink, error) {
	if err := d.Validate(); err != nil {
		return drinks.Drink{}, err
	}
	recipe, err := json.Marshal(d.Recipe)
	if err != nil {
		return drinks.Drink{}, fmt.Errorf("encode recipe: %w", err)
	}
	err = s.db.QueryRow(ctx, `INSERT INTO drink (title, recipe) VALUES ($1, $2) RETURNING id`, d.Title, recipe).Scan(&d.ID)
	if err != nil {
		return drinks.Drink{}, mapWriteError("create drink", err)
	}
	return d, nil
}

func (s *Store) Update(ctx context.Context, d drinks.Drink) (drinks.Drink, error) {
	if err := d.Validate(); err != nil {
		return drinks.Drink{}, err
	}
	recipe, err := json.Marshal(d.Recipe)
	if err != nil {
		return drinks.Drink{}, fmt.Errorf("encode recipe: %w", err)
	}
	tag, err := s.db.Exec(ctx, `UPDATE drink SET title = $2, recipe = $3 WHERE id = $1`, d.ID, d.Title, recipe)
	if err != nil {
		return drinks.Drink{}, mapWriteError("update drink", err)
	}
	if tag.RowsAffected() == 0 {
		return drinks.Drink{}, drinks.ErrNotFound
	}
	return d, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM drink WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete drink %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return drinks.ErrNotFound
	}
	return nil
}

func scanDrink(row pgx.Row) (drinks.Drink, error) {
	var (
		d      drinks.Drink
		recipe []byte
	)
	if err := row.Scan(&d.ID, &d.Title, &recipe); err != nil {
		return drinks.Drink{}, err
	}
	if err := json.Unmarshal(recipe, &d.Recipe); err != nil {
		return drinks.Drink{}, fmt.Errorf("decode recipe of drink %d: %w", d.ID, err)
	}
	return d, nil
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return drinks.ErrConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ drinks.Store = (*Store)(nil)
