// Package db provides database connectivity and data models for alicorn.
// It reads the unicornscan PostgreSQL schema (uni_scans, uni_ipreport,
// uni_ipreportdata) and exposes the query layer the comparison engine and
// the API surface are built on.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/alicorn-scan/alicorn/internal/errors"
	"github.com/alicorn-scan/alicorn/internal/logging"
)

const (
	// Default database configuration values.
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5
	defaultConnMaxIdleTime = 5
)

// sanitizeDBError converts raw database errors into safe, sanitized errors
// that don't expose SQL details or credentials to API clients. The original
// error is preserved in the Cause field for internal logging.
func sanitizeDBError(operation string, err error) error {
	if err == nil {
		return nil
	}

	if err == sql.ErrNoRows {
		dbErr := errors.NewDatabaseError(errors.CodeNotFound, "Resource not found")
		dbErr.Operation = operation
		dbErr.Cause = err
		return dbErr
	}

	if pqErr, ok := err.(*pq.Error); ok {
		var dbErr *errors.DatabaseError
		switch pqErr.Code {
		case "23503": // foreign_key_violation
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "Referenced resource does not exist")
		case "57014": // query_canceled
			dbErr = errors.NewDatabaseError(errors.CodeCanceled, "Database operation was canceled")
		case "57P01": // admin_shutdown
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection lost")
		case "08000", "08003", "08006": // connection errors
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection error")
		default:
			msg := fmt.Sprintf("Database operation failed: %s", operation)
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseQuery, msg)
		}
		dbErr.Operation = operation
		dbErr.Cause = err
		return dbErr
	}

	dbErr := errors.NewDatabaseError(errors.CodeDatabaseQuery,
		fmt.Sprintf("Database operation failed: %s", operation))
	dbErr.Operation = operation
	dbErr.Cause = err
	return dbErr
}

// DB wraps sqlx.DB with additional functionality.
type DB struct {
	*sqlx.DB
}

// Config holds database configuration.
type Config struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	Database        string        `yaml:"database" json:"database"`
	Username        string        `yaml:"username" json:"username"`
	Password        string        `yaml:"password" json:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultConfig returns the default database configuration.
// Database name, username, and password must be explicitly configured.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            defaultPostgresPort,
		Database:        "",
		Username:        "",
		Password:        "",
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime * time.Minute,
		ConnMaxIdleTime: defaultConnMaxIdleTime * time.Minute,
	}
}

// Connect establishes a connection to PostgreSQL.
// Returns sanitized errors that don't leak credentials or DSN details.
func Connect(ctx context.Context, config *Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		config.Host, config.Port, config.Database,
		config.Username, config.Password, config.SSLMode,
	)

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errors.ErrDatabaseConnection(err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("Failed to close database connection after ping failure")
		}
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection,
			"Failed to verify database connection", err)
	}

	logging.Info("Connected to database",
		"host", config.Host, "port", config.Port, "database", config.Database)
	return &DB{DB: db}, nil
}

// QueryRecorder receives one observation per finished store operation.
// metrics.Metrics implements it.
type QueryRecorder interface {
	RecordDBQuery(operation string, duration time.Duration, err error)
}

// Store provides query operations over the scan schema. It implements the
// data-source contract the comparison engine depends on.
type Store struct {
	db      *DB
	metrics QueryRecorder
}

// NewStore creates a new store instance.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// WithMetrics attaches a query recorder and returns the store.
func (s *Store) WithMetrics(recorder QueryRecorder) *Store {
	s.metrics = recorder
	return s
}

// observe reports one finished operation to the attached recorder, if any.
// Meant for defer, so err is read through a pointer after the body ran.
func (s *Store) observe(operation string, started time.Time, err *error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, time.Since(started), *err)
	}
}

// scanColumns selects the uni_scans fields the dashboard uses, joined with
// the first send workunit to recover the target specification. The "user"
// column needs quoting (reserved word) and is aliased to a scannable name.
const scanColumns = `
	s.scans_id,
	s.s_time,
	s.e_time,
	s.est_e_time,
	s.senders,
	s.listeners,
	s.profile,
	s.payload_group,
	s."user" AS username,
	s.tickrate,
	s.num_hosts,
	s.num_packets,
	COALESCE((
		SELECT host(w.target) || '/' || masklen(w.targetmask)
		FROM uni_sworkunits w
		WHERE w.scans_id = s.scans_id
		ORDER BY w.wid
		LIMIT 1
	), '') AS target,
	COALESCE((
		SELECT w.port_str
		FROM uni_sworkunits w
		WHERE w.scans_id = s.scans_id
		ORDER BY w.wid
		LIMIT 1
	), '') AS port_str`

// GetScan retrieves one scan by id.
func (s *Store) GetScan(ctx context.Context, id int64) (scan *Scan, err error) {
	defer s.observe("get scan", time.Now(), &err)

	var row Scan
	query := fmt.Sprintf(`SELECT %s FROM uni_scans s WHERE s.scans_id = $1`, scanColumns)

	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrNotFoundWithID("scan", fmt.Sprintf("%d", id))
		}
		return nil, sanitizeDBError("get scan", err)
	}

	return &row, nil
}

// ListScans retrieves scans newest first with pagination.
func (s *Store) ListScans(ctx context.Context, offset, limit int) (scans []*Scan, total int64, err error) {
	defer s.observe("list scans", time.Now(), &err)

	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM uni_scans`); err != nil {
		return nil, 0, sanitizeDBError("count scans", err)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM uni_scans s ORDER BY s.s_time DESC, s.scans_id DESC LIMIT $1 OFFSET $2`,
		scanColumns)

	if err := s.db.SelectContext(ctx, &scans, query, limit, offset); err != nil {
		return nil, 0, sanitizeDBError("list scans", err)
	}

	return scans, total, nil
}

// GetReports retrieves every IP report row for one scan, ordered by host
// then port for deterministic output.
func (s *Store) GetReports(ctx context.Context, scanID int64) (reports []*IPReport, err error) {
	defer s.observe("get reports", time.Now(), &err)

	query := `
		SELECT ipreport_id, scans_id, sport, dport, proto, type, subtype,
		       host_addr, trace_addr, ttl, tstamp, flags, window_size
		FROM uni_ipreport
		WHERE scans_id = $1
		ORDER BY host_addr, dport, proto`

	if err := s.db.SelectContext(ctx, &reports, query, scanID); err != nil {
		return nil, sanitizeDBError("get reports", err)
	}

	return reports, nil
}

// GetBanners retrieves the decoded banners for one scan as a mapping from
// report row id to banner text. An empty map means no banner data exists.
func (s *Store) GetBanners(ctx context.Context, scanID int64) (banners map[int64]string, err error) {
	defer s.observe("get banners", time.Now(), &err)

	var rows []BannerRow
	query := `
		SELECT d.ipreport_id, d.data
		FROM uni_ipreportdata d
		JOIN uni_ipreport r ON r.ipreport_id = d.ipreport_id
		WHERE r.scans_id = $1 AND d.type = $2 AND d.data IS NOT NULL`

	if err := s.db.SelectContext(ctx, &rows, query, scanID, reportDataBanner); err != nil {
		return nil, sanitizeDBError("get banners", err)
	}

	banners = make(map[int64]string, len(rows))
	for _, row := range rows {
		banners[row.ReportID] = row.Data
	}

	return banners, nil
}

// GetARPReports retrieves ARP discovery rows for one scan.
func (s *Store) GetARPReports(ctx context.Context, scanID int64) (reports []*ARPReport, err error) {
	defer s.observe("get arp reports", time.Now(), &err)

	query := `
		SELECT arpreport_id, scans_id, host_addr, hwaddr::text AS hwaddr, tstamp
		FROM uni_arpreport
		WHERE scans_id = $1
		ORDER BY host_addr`

	if err := s.db.SelectContext(ctx, &reports, query, scanID); err != nil {
		return nil, sanitizeDBError("get arp reports", err)
	}

	return reports, nil
}

// DeleteScan removes a scan and every dependent row in one transaction.
// The schema predates ON DELETE CASCADE, so children go first.
func (s *Store) DeleteScan(ctx context.Context, id int64) (err error) {
	defer s.observe("delete scan", time.Now(), &err)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	childQueries := []string{
		`DELETE FROM uni_ippackets WHERE ipreport_id IN
			(SELECT ipreport_id FROM uni_ipreport WHERE scans_id = $1)`,
		`DELETE FROM uni_ipreportdata WHERE ipreport_id IN
			(SELECT ipreport_id FROM uni_ipreport WHERE scans_id = $1)`,
		`DELETE FROM uni_ipreport WHERE scans_id = $1`,
		`DELETE FROM uni_arppackets WHERE arpreport_id IN
			(SELECT arpreport_id FROM uni_arpreport WHERE scans_id = $1)`,
		`DELETE FROM uni_arpreport WHERE scans_id = $1`,
		`DELETE FROM uni_workunitstats WHERE scans_id = $1`,
		`DELETE FROM uni_output WHERE scans_id = $1`,
		`DELETE FROM uni_sworkunits WHERE scans_id = $1`,
		`DELETE FROM uni_lworkunits WHERE scans_id = $1`,
	}

	for _, query := range childQueries {
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			return sanitizeDBError("delete scan children", err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM uni_scans WHERE scans_id = $1`, id)
	if err != nil {
		return sanitizeDBError("delete scan", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return sanitizeDBError("get rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.ErrNotFoundWithID("scan", fmt.Sprintf("%d", id))
	}

	if err := tx.Commit(); err != nil {
		return sanitizeDBError("commit transaction", err)
	}

	return nil
}

// GetActivity returns per-day activity buckets for the heatmap view.
// Timestamps are bucketed to UTC day boundaries in SQL so the database and
// the service agree on bucket edges.
func (s *Store) GetActivity(ctx context.Context, since int64) (buckets []*ActivityBucket, err error) {
	defer s.observe("get activity", time.Now(), &err)

	query := `
		SELECT (s.s_time / 86400) * 86400 AS day,
		       COUNT(DISTINCT s.scans_id) AS scans,
		       COUNT(r.ipreport_id) AS reports
		FROM uni_scans s
		LEFT JOIN uni_ipreport r ON r.scans_id = s.scans_id
		WHERE s.s_time >= $1
		GROUP BY day
		ORDER BY day`

	if err := s.db.SelectContext(ctx, &buckets, query, since); err != nil {
		return nil, sanitizeDBError("get activity", err)
	}

	return buckets, nil
}
