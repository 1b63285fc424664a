package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory backs the lookup_contact function with a postgres table of
// reference contacts the assistant can mention on a call.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(ctx context.Context, databaseURL string) (*Directory, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initDirectorySchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Directory{pool: pool}, nil
}

func initDirectorySchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_name ON contacts (lower(name));`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init directory schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Register installs the directory-backed handlers.
func (d *Directory) Register(r *Registry) {
	r.Register("lookup_contact", d.LookupContact)
}

// LookupContact finds contacts whose name matches the query, best matches
// first, capped at five rows.
func (d *Directory) LookupContact(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		return "", fmt.Errorf("lookup_contact requires a name argument")
	}

	rows, err := d.pool.Query(ctx,
		`SELECT name, phone, notes FROM contacts WHERE name ILIKE '%' || $1 || '%' ORDER BY name LIMIT 5`,
		strings.TrimSpace(req.Name))
	if err != nil {
		return "", fmt.Errorf("directory query: %w", err)
	}
	defer rows.Close()

	type contact struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
		Notes string `json:"notes,omitempty"`
	}
	var matches []contact
	for rows.Next() {
		var c contact
		if err := rows.Scan(&c.Name, &c.Phone, &c.Notes); err != nil {
			return "", fmt.Errorf("directory scan: %w", err)
		}
		matches = append(matches, c)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("directory rows: %w", err)
	}

	b, err := json.Marshal(map[string]any{"matches": matches})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Directory) Close() {
	d.pool.Close()
}
