package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"medscan"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const selectColumns = `SELECT id, registration_number, product_name, active_ingredient, generic_name, manufacturer, holder, status FROM medicines`

// SQLStore queries a medicines table through database/sql (PostgreSQL via lib/pq or SQLite via modernc).
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQLStore opens and pings a registry database.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported registry driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping registry db: %w", err)
	}
	return NewSQLStore(db, driver), nil
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) LookupByRegNumber(ctx context.Context, regNumber string) (*medscan.RegistryRecord, error) {
	key := normalizeRegNumber(regNumber)
	if key == "" {
		return nil, nil
	}
	q := selectColumns + ` WHERE UPPER(REPLACE(REPLACE(REPLACE(REPLACE(registration_number, ' ', ''), '-', ''), '/', ''), '.', '')) = ? LIMIT 1`
	return s.queryOne(ctx, q, key)
}

// nameMatch matches product names containing the query, or of at least three characters and contained in it.
const nameMatch = `(LOWER(product_name) LIKE ? OR (LENGTH(product_name) >= 3 AND ? LIKE '%' || LOWER(product_name) || '%'))`

const ingredientMatch = `(LOWER(active_ingredient) LIKE ? OR (LENGTH(active_ingredient) > 0 AND ? LIKE '%' || LOWER(active_ingredient) || '%'))`

// nameOrder puts the shortest containing name first, then the longest contained one.
const nameOrder = ` ORDER BY CASE WHEN LOWER(product_name) LIKE ? THEN 0 ELSE 1 END,` +
	` CASE WHEN LOWER(product_name) LIKE ? THEN LENGTH(product_name) ELSE -LENGTH(product_name) END LIMIT 1`

func (s *SQLStore) LookupByNameAndIngredient(ctx context.Context, name, ingredient string) (*medscan.RegistryRecord, error) {
	n, i := likePattern(name), likePattern(ingredient)
	if n == "" || i == "" {
		return nil, nil
	}
	q := selectColumns + ` WHERE ` + nameMatch + ` AND ` + ingredientMatch + nameOrder
	return s.queryOne(ctx, q, n, normalizeText(name), i, normalizeText(ingredient), n, n)
}

func (s *SQLStore) LookupByName(ctx context.Context, name string) (*medscan.RegistryRecord, error) {
	n := likePattern(name)
	if n == "" {
		return nil, nil
	}
	q := selectColumns + ` WHERE ` + nameMatch + nameOrder
	return s.queryOne(ctx, q, n, normalizeText(name), n, n)
}

func (s *SQLStore) queryOne(ctx context.Context, query string, args ...any) (*medscan.RegistryRecord, error) {
	var (
		rec                                           medscan.RegistryRecord
		reg, product, ingredient, generic, maker, hol sql.NullString
		status                                        sql.NullString
	)

	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(
		&rec.ID, &reg, &product, &ingredient, &generic, &maker, &hol, &status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query registry: %w", err)
	}

	rec.RegistrationNumber = reg.String
	rec.ProductName = product.String
	rec.ActiveIngredient = ingredient.String
	rec.GenericName = generic.String
	rec.Manufacturer = maker.String
	rec.Holder = hol.String
	rec.Status = status.String
	return &rec, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// likePattern builds a case-insensitive substring pattern, dropping LIKE wildcards from user text.
func likePattern(s string) string {
	s = strings.NewReplacer("%", "", "_", " ", "\\", "").Replace(s)
	s = normalizeText(s)
	if s == "" {
		return ""
	}
	return "%" + s + "%"
}
