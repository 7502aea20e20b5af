// Package storeserver is a development stand-in for the remote region store
// and risk endpoint, backed by SQLite.
package storeserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
)

// ErrNotFound is returned when a region does not exist for the given owner.
var ErrNotFound = errors.New("region not found")

// StoredRegion is one persisted region row.
type StoredRegion struct {
	ID      string
	Email   string
	Name    string
	GeoJSON json.RawMessage
}

// Repository persists regions and risk points.
type Repository struct {
	db *sql.DB
}

func NewRepository(path string) (*Repository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating database: %w", err)
	}
	return r, nil
}

func (r *Repository) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS regions (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			name TEXT NOT NULL,
			geojson TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS risk_points (
			id TEXT PRIMARY KEY,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			probability REAL NOT NULL,
			timestamp DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_regions_email ON regions(email);
		CREATE INDEX IF NOT EXISTS idx_risk_points_probability ON risk_points(probability);
	`
	_, err := r.db.Exec(schema)
	return err
}

// ListRegions returns email's regions in creation order.
func (r *Repository) ListRegions(ctx context.Context, email string) ([]StoredRegion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, email, name, geojson FROM regions WHERE email = ? ORDER BY created_at, id`, email)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	defer rows.Close()

	var out []StoredRegion
	for rows.Next() {
		var (
			reg StoredRegion
			raw string
		)
		if err := rows.Scan(&reg.ID, &reg.Email, &reg.Name, &raw); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		reg.GeoJSON = json.RawMessage(raw)
		out = append(out, reg)
	}
	return out, rows.Err()
}

// CreateRegion stores a region under a fresh id.
func (r *Repository) CreateRegion(ctx context.Context, email, name string, geo json.RawMessage) (string, error) {
	id := uuid.NewString()
	now := domain.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO regions (id, email, name, geojson, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, email, name, string(geo), now, now)
	if err != nil {
		return "", fmt.Errorf("create region: %w", err)
	}
	return id, nil
}

// UpdateRegion replaces name and geometry. A region owned by someone else is
// ErrNotFound.
func (r *Repository) UpdateRegion(ctx context.Context, id, email, name string, geo json.RawMessage) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE regions SET name = ?, geojson = ?, updated_at = ? WHERE id = ? AND email = ?`,
		name, string(geo), domain.Now().UTC(), id, email)
	if err != nil {
		return fmt.Errorf("update region: %w", err)
	}
	return affectedOne(res)
}

// DeleteRegion removes id if email owns it.
func (r *Repository) DeleteRegion(ctx context.Context, id, email string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM regions WHERE id = ? AND email = ?`, id, email)
	if err != nil {
		return fmt.Errorf("delete region: %w", err)
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TopRisk returns up to limit risk points, highest probability first.
func (r *Repository) TopRisk(ctx context.Context, limit int) ([]domain.RiskPoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, latitude, longitude, probability, timestamp FROM risk_points ORDER BY probability DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list risk points: %w", err)
	}
	defer rows.Close()

	var out []domain.RiskPoint
	for rows.Next() {
		var (
			p  domain.RiskPoint
			ts sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.Latitude, &p.Longitude, &p.Probability, &ts); err != nil {
			return nil, fmt.Errorf("scan risk point: %w", err)
		}
		if ts.Valid {
			p.Timestamp = ts.Time.UTC()
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SeedRisk upserts points.
func (r *Repository) SeedRisk(ctx context.Context, points []domain.RiskPoint) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed risk points: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO risk_points (id, latitude, longitude, probability, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			probability = excluded.probability,
			timestamp = excluded.timestamp`)
	if err != nil {
		return fmt.Errorf("seed risk points: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		var ts any
		if !p.Timestamp.IsZero() {
			ts = p.Timestamp.UTC()
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.Latitude, p.Longitude, p.Probability, ts); err != nil {
			return fmt.Errorf("seed risk point %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// LoadRiskSeed reads a JSON array of risk points from path.
func LoadRiskSeed(path string) ([]domain.RiskPoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read risk seed: %w", err)
	}
	var points []domain.RiskPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, &domain.ParseError{Source: path, Err: err}
	}
	return points, nil
}

// CheckReadiness pings the database.
func (r *Repository) CheckReadiness(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}
