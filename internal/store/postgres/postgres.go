// Package postgres implements the record and deny-list stores on PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TomasB/geocache/internal/data"
	"github.com/TomasB/geocache/internal/store/pending"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrMigrationFailed  = errors.New("migration failed")
)

const (
	recordsTable = "geo_records"
	denyTable    = "deny_list"
)

var recordColumns = []string{
	"ip", "type", "continent_code", "continent_name", "country_code", "country_name",
	"region_code", "region_name", "city", "zip", "latitude", "longitude", "fetched_at",
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Config holds all values used to connect to a postgres database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	// ConnectTimeout bounds how long Connect retries an unreachable server.
	ConnectTimeout time.Duration
}

func (c Config) toURL() string {
	if c.MaxConns == 0 { // prevent error: pool_max_conns too small
		c.MaxConns = 10
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}

	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s&pool_max_conns=%d",
		c.User, c.Password, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Database, c.SSLMode, c.MaxConns)
}

// Store persists records and deny-list entries in PostgreSQL.
type Store struct {
	PGx      *pgxpool.Pool
	database string
	pending  *pending.Queue
}

// Connect opens a connection pool and retries the first ping with
// exponential backoff until conf.ConnectTimeout expires.
func Connect(ctx context.Context, conf Config) (*Store, error) {
	config, err := pgxpool.ParseConfig(conf.toURL())
	if err != nil {
		return nil, fmt.Errorf("%w: could not parse config: %v", ErrConnectionFailed, err)
	}
	config.ConnConfig.RuntimeParams = map[string]string{
		"application_name": "geocache",
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%w: could not connect: %v", ErrConnectionFailed, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = conf.ConnectTimeout
	if policy.MaxElapsedTime <= 0 {
		policy.MaxElapsedTime = 30 * time.Second
	}
	err = backoff.RetryNotify(func() error {
		return pool.Ping(ctx)
	}, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
		slog.Warn("postgres not reachable, retrying", "error", err, "next", next.String())
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: could not ping db: %v", ErrConnectionFailed, err)
	}

	return &Store{PGx: pool, database: conf.Database, pending: pending.New()}, nil
}

// ConnectAndMigrate connects and brings the schema to the latest version.
func ConnectAndMigrate(ctx context.Context, conf Config) (*Store, error) {
	s, err := Connect(ctx, conf)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Records returns the record store view.
func (s *Store) Records() data.RecordStore { return recordStore{s} }

// Denies returns the deny-list store view.
func (s *Store) Denies() data.DenyStore { return denyStore{s} }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.PGx.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.PGx.Close()
	return nil
}

type recordRow struct {
	IP            string    `db:"ip"`
	Type          string    `db:"type"`
	ContinentCode string    `db:"continent_code"`
	ContinentName string    `db:"continent_name"`
	CountryCode   string    `db:"country_code"`
	CountryName   string    `db:"country_name"`
	RegionCode    string    `db:"region_code"`
	RegionName    string    `db:"region_name"`
	City          string    `db:"city"`
	Zip           string    `db:"zip"`
	Latitude      *float64  `db:"latitude"`
	Longitude     *float64  `db:"longitude"`
	FetchedAt     time.Time `db:"fetched_at"`
}

func (r recordRow) record() data.GeoRecord {
	return data.GeoRecord{
		IP: r.IP,
		Attributes: data.Attributes{
			Type:          r.Type,
			ContinentCode: r.ContinentCode,
			ContinentName: r.ContinentName,
			CountryCode:   r.CountryCode,
			CountryName:   r.CountryName,
			RegionCode:    r.RegionCode,
			RegionName:    r.RegionName,
			City:          r.City,
			PostalCode:    r.Zip,
			Latitude:      r.Latitude,
			Longitude:     r.Longitude,
		},
		FetchedAt: r.FetchedAt.UTC(),
	}
}

type recordStore struct{ *Store }

func (s recordStore) FindByIP(ctx context.Context, ip string) (data.GeoRecord, error) {
	query, args, err := psql.Select(recordColumns...).From(recordsTable).Where(squirrel.Eq{"ip": ip}).ToSql()
	if err != nil {
		return data.GeoRecord{}, fmt.Errorf("postgres: build query: %w", err)
	}

	var row recordRow
	if err := pgxscan.Get(ctx, s.PGx, &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return data.GeoRecord{}, data.ErrNotExist
		}
		return data.GeoRecord{}, fmt.Errorf("postgres: find record: %w", err)
	}
	return row.record(), nil
}

func (s recordStore) Upsert(ctx context.Context, rec data.GeoRecord) (data.GeoRecord, error) {
	query, args, err := psql.Insert(recordsTable).
		Columns(recordColumns...).
		Values(
			rec.IP, rec.Type, rec.ContinentCode, rec.ContinentName, rec.CountryCode, rec.CountryName,
			rec.RegionCode, rec.RegionName, rec.City, rec.PostalCode, rec.Latitude, rec.Longitude,
			rec.FetchedAt.UTC(),
		).
		Suffix(upsertClause(recordColumns)).
		ToSql()
	if err != nil {
		return data.GeoRecord{}, fmt.Errorf("postgres: build query: %w", err)
	}

	if _, err := s.PGx.Exec(ctx, query, args...); err != nil {
		return data.GeoRecord{}, fmt.Errorf("postgres: upsert record: %w", err)
	}
	return rec, nil
}

func (s recordStore) Delete(ctx context.Context, rec data.GeoRecord) error {
	return s.deleteByIP(ctx, recordsTable, rec.IP)
}

type denyRow struct {
	IP       string    `db:"ip"`
	DeniedAt time.Time `db:"denied_at"`
}

type denyStore struct{ *Store }

func (s denyStore) FindByIP(ctx context.Context, ip string) (data.DenyEntry, error) {
	query, args, err := psql.Select("ip", "denied_at").From(denyTable).Where(squirrel.Eq{"ip": ip}).ToSql()
	if err != nil {
		return data.DenyEntry{}, fmt.Errorf("postgres: build query: %w", err)
	}

	var row denyRow
	if err := pgxscan.Get(ctx, s.PGx, &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return data.DenyEntry{}, data.ErrNotExist
		}
		return data.DenyEntry{}, fmt.Errorf("postgres: find deny entry: %w", err)
	}
	return data.DenyEntry{IP: row.IP, DeniedAt: row.DeniedAt.UTC()}, nil
}

func (s denyStore) Upsert(ctx context.Context, entry data.DenyEntry) (data.DenyEntry, error) {
	s.pending.Forget(entry.IP)

	query, args, err := psql.Insert(denyTable).
		Columns("ip", "denied_at").
		Values(entry.IP, entry.DeniedAt.UTC()).
		Suffix(upsertClause([]string{"ip", "denied_at"})).
		ToSql()
	if err != nil {
		return data.DenyEntry{}, fmt.Errorf("postgres: build query: %w", err)
	}

	if _, err := s.PGx.Exec(ctx, query, args...); err != nil {
		return data.DenyEntry{}, fmt.Errorf("postgres: upsert deny entry: %w", err)
	}
	return entry, nil
}

func (s denyStore) Delete(ctx context.Context, entry data.DenyEntry, commitNow bool) error {
	if !commitNow {
		if _, err := s.FindByIP(ctx, entry.IP); err != nil {
			return err
		}
		s.pending.Add(entry.IP)
		return nil
	}

	if err := s.deleteByIP(ctx, denyTable, entry.IP); err != nil {
		return err
	}
	s.pending.Forget(entry.IP)
	return nil
}

// Commit deletes the queued entries in a single transaction.
func (s denyStore) Commit(ctx context.Context, ips ...string) error {
	return s.pending.Commit(ips, func(keys []string) error {
		query, args, err := psql.Delete(denyTable).Where(squirrel.Eq{"ip": keys}).ToSql()
		if err != nil {
			return fmt.Errorf("postgres: build query: %w", err)
		}

		tx, err := s.PGx.Begin(ctx)
		if err != nil {
			return fmt.Errorf("postgres: begin: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: commit deny removals: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("postgres: commit: %w", err)
		}
		return nil
	})
}

func (s *Store) deleteByIP(ctx context.Context, table, ip string) error {
	query, args, err := psql.Delete(table).Where(squirrel.Eq{"ip": ip}).ToSql()
	if err != nil {
		return fmt.Errorf("postgres: build query: %w", err)
	}

	tag, err := s.PGx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: delete from %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return data.ErrNotExist
	}
	return nil
}

func upsertClause(columns []string) string {
	set := make([]string, 0, len(columns))
	for _, c := range columns[1:] {
		set = append(set, c+" = EXCLUDED."+c)
	}
	return "ON CONFLICT (" + columns[0] + ") DO UPDATE SET " + strings.Join(set, ", ")
}
