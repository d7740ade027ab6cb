package plant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	queryLatest = `SELECT plant_id, temperature, humidity, created_at
FROM plant_data
WHERE plant_id = ?
ORDER BY created_at DESC
LIMIT 1`

	queryAllLatest = `SELECT d.plant_id, d.temperature, d.humidity, d.created_at
FROM plant_data d
JOIN (
	SELECT plant_id, MAX(created_at) AS created_at
	FROM plant_data
	GROUP BY plant_id
) m ON d.plant_id = m.plant_id AND d.created_at = m.created_at
ORDER BY d.plant_id ASC`
)

// SQLRepository reads readings from the plant_data table. It holds no state
// besides the connection pool, so it is safe to share.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository returns repository on top of db.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// OpenMySQL opens a MySQL connection pool for the given DSN. Time values are
// always parsed into time.Time in UTC.
func OpenMySQL(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// FetchLatest implements Repository.
func (r *SQLRepository) FetchLatest(ctx context.Context, deviceID int) (*Reading, error) {
	var rd Reading
	err := r.db.QueryRowContext(ctx, queryLatest, deviceID).Scan(
		&rd.DeviceID, &rd.Temperature, &rd.Humidity, &rd.CapturedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: latest reading of device %d: %v", ErrUnavailable, deviceID, err)
	}
	return &rd, nil
}

// FetchAllLatest implements Repository.
func (r *SQLRepository) FetchAllLatest(ctx context.Context) ([]Reading, error) {
	rows, err := r.db.QueryContext(ctx, queryAllLatest)
	if err != nil {
		return nil, fmt.Errorf("%w: latest readings: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var rs []Reading
	for rows.Next() {
		var rd Reading
		if err := rows.Scan(&rd.DeviceID, &rd.Temperature, &rd.Humidity, &rd.CapturedAt); err != nil {
			return nil, fmt.Errorf("%w: scan reading: %v", ErrUnavailable, err)
		}
		rs = append(rs, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: latest readings: %v", ErrUnavailable, err)
	}
	return rs, nil
}
