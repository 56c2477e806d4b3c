package data

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/oschwald/geoip2-golang"
)

var errReaderClosed = errors.New("MMDB reader is closed")

// MmdbReader implements Provider using a MaxMind City MMDB file.
type MmdbReader struct {
	path string

	mu     sync.RWMutex
	db     *geoip2.Reader
	closed bool
}

// NewMmdbReader opens the MMDB file at the given path and returns a reader.
func NewMmdbReader(path string) (*MmdbReader, error) {
	r := &MmdbReader{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reopens the MMDB file and swaps it in. The previous reader
// keeps serving if the file cannot be opened. Reload fails once the reader
// is closed.
func (r *MmdbReader) Reload() error {
	db, err := geoip2.Open(r.path)
	if err != nil {
		return fmt.Errorf("failed to open MMDB file: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		db.Close()
		return errReaderClosed
	}
	old := r.db
	r.db = db
	r.mu.Unlock()

	if old != nil {
		return old.Close()
	}
	return nil
}

// Watch reloads the database whenever the file is written or replaced,
// until ctx is done.
func (r *MmdbReader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create MMDB watcher: %w", err)
	}
	// Watch the directory: replacing the file via rename drops a file watch.
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch MMDB directory: %w", err)
	}

	target := filepath.Clean(r.path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := r.Reload(); err != nil {
					slog.Warn("MMDB reload failed", "path", r.path, "error", err)
					continue
				}
				slog.Info("MMDB reloaded", "path", r.path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("MMDB watcher error", "path", r.path, "error", err)
			}
		}
	}()
	return nil
}

// Fetch returns the city-level attributes for the given IP address.
func (r *MmdbReader) Fetch(_ context.Context, ip netip.Addr) (Attributes, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.db == nil {
		return Attributes{}, errReaderClosed
	}

	record, err := r.db.City(net.IP(ip.Unmap().AsSlice()))
	if err != nil {
		return Attributes{}, fmt.Errorf("city lookup failed: %w", err)
	}
	if record.Country.IsoCode == "" && record.City.GeoNameID == 0 {
		return Attributes{}, &LookupError{Message: "IP not found"}
	}

	attrs := Attributes{
		Type:          AddrType(ip),
		ContinentCode: record.Continent.Code,
		ContinentName: record.Continent.Names["en"],
		CountryCode:   record.Country.IsoCode,
		CountryName:   record.Country.Names["en"],
		City:          record.City.Names["en"],
		PostalCode:    record.Postal.Code,
	}
	if len(record.Subdivisions) > 0 {
		attrs.RegionCode = record.Subdivisions[0].IsoCode
		attrs.RegionName = record.Subdivisions[0].Names["en"]
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		attrs.Latitude = Float(record.Location.Latitude)
		attrs.Longitude = Float(record.Location.Longitude)
	}
	return attrs, nil
}

// Close releases the MMDB reader resources. Later reloads are refused.
func (r *MmdbReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}
