package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hazard"
)

const schema = `
CREATE TABLE IF NOT EXISTS hazard_points (
	id          BIGSERIAL PRIMARY KEY,
	latitude    DOUBLE PRECISION NOT NULL,
	longitude   DOUBLE PRECISION NOT NULL,
	confidence  TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL,
	source      TEXT NOT NULL,
	ingested_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (source, latitude, longitude, acquired_at)
);
CREATE INDEX IF NOT EXISTS hazard_points_acquired_at_idx ON hazard_points (acquired_at);`

// batchSize keeps each insert well under the Postgres parameter limit
const batchSize = 1000

// Archive keeps every ingested hazard detection in Postgres
type Archive struct {
	db *sqlx.DB
}

type hazardRow struct {
	Latitude   float64   `db:"latitude"`
	Longitude  float64   `db:"longitude"`
	Confidence string    `db:"confidence"`
	AcquiredAt time.Time `db:"acquired_at"`
	Source     string    `db:"source"`
}

// Open connects to the archive database
func Open(ctx context.Context, dsn string) (*Archive, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to hazard archive: %w", err)
	}
	return NewArchive(db), nil
}

// NewArchive wraps an existing connection
func NewArchive(db *sqlx.DB) *Archive {
	return &Archive{db: db}
}

// Close closes the underlying connection pool
func (a *Archive) Close() error {
	return a.db.Close()
}

// EnsureSchema creates the archive table if it does not exist
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create hazard archive schema: %w", err)
	}
	return nil
}

// Record stores points, ignoring detections already archived. It returns the
// number of new rows.
func (a *Archive) Record(ctx context.Context, points []hazard.Point) (int64, error) {
	if len(points) == 0 {
		return 0, nil
	}

	const query = `
		INSERT INTO hazard_points (latitude, longitude, confidence, acquired_at, source)
		VALUES (:latitude, :longitude, :confidence, :acquired_at, :source)
		ON CONFLICT DO NOTHING`

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var inserted int64
	for start := 0; start < len(points); start += batchSize {
		end := min(start+batchSize, len(points))
		rows := toRows(points[start:end])

		res, err := tx.NamedExecContext(ctx, query, rows)
		if err != nil {
			return 0, fmt.Errorf("failed to archive hazard points: %w", err)
		}
		n, err := res.RowsAffected()
		if err == nil {
			inserted += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit hazard archive: %w", err)
	}
	return inserted, nil
}

// Since returns archived detections acquired at or after since, optionally
// limited to the given sources, oldest first.
func (a *Archive) Since(ctx context.Context, since time.Time, sources []string) ([]hazard.Point, error) {
	query := `
		SELECT latitude, longitude, confidence, acquired_at, source
		FROM hazard_points
		WHERE acquired_at >= $1`
	args := []interface{}{since}
	if len(sources) > 0 {
		query += ` AND source = ANY($2)`
		args = append(args, pq.Array(sources))
	}
	query += ` ORDER BY acquired_at, id`

	var rows []hazardRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query hazard archive: %w", err)
	}
	return fromRows(rows)
}

func toRows(points []hazard.Point) []hazardRow {
	rows := make([]hazardRow, len(points))
	for i, p := range points {
		rows[i] = hazardRow{
			Latitude:   p.Location.Latitude,
			Longitude:  p.Location.Longitude,
			Confidence: p.Confidence.String(),
			AcquiredAt: p.AcquiredAt.UTC(),
			Source:     p.Source,
		}
	}
	return rows
}

func fromRows(rows []hazardRow) ([]hazard.Point, error) {
	points := make([]hazard.Point, len(rows))
	for i, r := range rows {
		confidence, err := hazard.ParseConfidence(r.Confidence)
		if err != nil {
			return nil, fmt.Errorf("archived row %d: %w", i, err)
		}
		points[i] = hazard.Point{
			Location:   geo.Point{Latitude: r.Latitude, Longitude: r.Longitude},
			Confidence: confidence,
			AcquiredAt: r.AcquiredAt.UTC(),
			Source:     r.Source,
		}
	}
	return points, nil
}
