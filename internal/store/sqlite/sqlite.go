// Package sqlite implements the record and deny-list stores on an embedded
// SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/TomasB/geocache/internal/data"
	"github.com/TomasB/geocache/internal/store/pending"

	_ "modernc.org/sqlite"
)

const (
	recordsTable = "geo_records"
	denyTable    = "deny_list"
)

var recordColumns = []string{
	"ip", "type", "continent_code", "continent_name", "country_code", "country_name",
	"region_code", "region_name", "city", "zip", "latitude", "longitude", "fetched_at",
}

var qb = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

// Store persists records and deny-list entries in one SQLite file.
type Store struct {
	db      *sql.DB
	pending *pending.Queue
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: ensure dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return &Store{db: db, pending: pending.New()}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS geo_records (
    ip TEXT PRIMARY KEY,
    type TEXT NOT NULL DEFAULT '',
    continent_code TEXT NOT NULL DEFAULT '',
    continent_name TEXT NOT NULL DEFAULT '',
    country_code TEXT NOT NULL DEFAULT '',
    country_name TEXT NOT NULL DEFAULT '',
    region_code TEXT NOT NULL DEFAULT '',
    region_name TEXT NOT NULL DEFAULT '',
    city TEXT NOT NULL DEFAULT '',
    zip TEXT NOT NULL DEFAULT '',
    latitude REAL,
    longitude REAL,
    fetched_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS deny_list (
    ip TEXT PRIMARY KEY,
    denied_at INTEGER NOT NULL
);`
	_, err := db.Exec(schema)
	return err
}

// Records returns the record store view.
func (s *Store) Records() data.RecordStore { return recordStore{s} }

// Denies returns the deny-list store view.
func (s *Store) Denies() data.DenyStore { return denyStore{s} }

// Ping checks that the database file is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type recordStore struct{ *Store }

func (s recordStore) FindByIP(ctx context.Context, ip string) (data.GeoRecord, error) {
	query, args, err := qb.Select(recordColumns...).From(recordsTable).Where(squirrel.Eq{"ip": ip}).ToSql()
	if err != nil {
		return data.GeoRecord{}, fmt.Errorf("sqlite: build query: %w", err)
	}

	var (
		rec       data.GeoRecord
		lat, lon  sql.NullFloat64
		fetchedAt int64
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&rec.IP, &rec.Type, &rec.ContinentCode, &rec.ContinentName, &rec.CountryCode, &rec.CountryName,
		&rec.RegionCode, &rec.RegionName, &rec.City, &rec.PostalCode, &lat, &lon, &fetchedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return data.GeoRecord{}, data.ErrNotExist
	}
	if err != nil {
		return data.GeoRecord{}, fmt.Errorf("sqlite: find record: %w", err)
	}

	if lat.Valid {
		rec.Latitude = data.Float(lat.Float64)
	}
	if lon.Valid {
		rec.Longitude = data.Float(lon.Float64)
	}
	rec.FetchedAt = time.Unix(0, fetchedAt).UTC()
	return rec, nil
}

func (s recordStore) Upsert(ctx context.Context, rec data.GeoRecord) (data.GeoRecord, error) {
	query, args, err := qb.Insert(recordsTable).
		Columns(recordColumns...).
		Values(
			rec.IP, rec.Type, rec.ContinentCode, rec.ContinentName, rec.CountryCode, rec.CountryName,
			rec.RegionCode, rec.RegionName, rec.City, rec.PostalCode, rec.Latitude, rec.Longitude,
			rec.FetchedAt.UnixNano(),
		).
		Suffix(upsertClause(recordColumns)).
		ToSql()
	if err != nil {
		return data.GeoRecord{}, fmt.Errorf("sqlite: build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return data.GeoRecord{}, fmt.Errorf("sqlite: upsert record: %w", err)
	}
	return rec, nil
}

func (s recordStore) Delete(ctx context.Context, rec data.GeoRecord) error {
	return deleteByIP(ctx, s.db, recordsTable, rec.IP)
}

type denyStore struct{ *Store }

func (s denyStore) FindByIP(ctx context.Context, ip string) (data.DenyEntry, error) {
	query, args, err := qb.Select("ip", "denied_at").From(denyTable).Where(squirrel.Eq{"ip": ip}).ToSql()
	if err != nil {
		return data.DenyEntry{}, fmt.Errorf("sqlite: build query: %w", err)
	}

	var (
		entry    data.DenyEntry
		deniedAt int64
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&entry.IP, &deniedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return data.DenyEntry{}, data.ErrNotExist
	}
	if err != nil {
		return data.DenyEntry{}, fmt.Errorf("sqlite: find deny entry: %w", err)
	}
	entry.DeniedAt = time.Unix(0, deniedAt).UTC()
	return entry, nil
}

func (s denyStore) Upsert(ctx context.Context, entry data.DenyEntry) (data.DenyEntry, error) {
	s.pending.Forget(entry.IP)

	query, args, err := qb.Insert(denyTable).
		Columns("ip", "denied_at").
		Values(entry.IP, entry.DeniedAt.UnixNano()).
		Suffix(upsertClause([]string{"ip", "denied_at"})).
		ToSql()
	if err != nil {
		return data.DenyEntry{}, fmt.Errorf("sqlite: build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return data.DenyEntry{}, fmt.Errorf("sqlite: upsert deny entry: %w", err)
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

	if err := deleteByIP(ctx, s.db, denyTable, entry.IP); err != nil {
		return err
	}
	s.pending.Forget(entry.IP)
	return nil
}

// Commit deletes the queued entries in a single transaction.
func (s denyStore) Commit(ctx context.Context, ips ...string) error {
	return s.pending.Commit(ips, func(keys []string) error {
		query, args, err := qb.Delete(denyTable).Where(squirrel.Eq{"ip": keys}).ToSql()
		if err != nil {
			return fmt.Errorf("sqlite: build query: %w", err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite: begin: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: commit deny removals: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite: commit: %w", err)
		}
		return nil
	})
}

func deleteByIP(ctx context.Context, db *sql.DB, table, ip string) error {
	query, args, err := qb.Delete(table).Where(squirrel.Eq{"ip": ip}).ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: build query: %w", err)
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: delete from %s: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return data.ErrNotExist
	}
	return nil
}

// upsertClause overwrites every non-key column on primary key conflict.
func upsertClause(columns []string) string {
	set := make([]string, 0, len(columns))
	for _, c := range columns[1:] {
		set = append(set, c+" = excluded."+c)
	}
	return "ON CONFLICT (" + columns[0] + ") DO UPDATE SET " + strings.Join(set, ", ")
}
