package data

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/ip2location/ip2location-go/v9"
)

// ip2locationUnavailable prefixes what ip2location returns for fields the BIN file does not carry.
const ip2locationUnavailable = "This parameter is unavailable"

// IP2Location implements Provider using an IP2Location BIN database.
//
// This product can use IP2Location LITE data available from
// <a href="https://lite.ip2location.com">https://lite.ip2location.com</a>.
type IP2Location struct {
	db *ip2location.DB
}

// NewIP2Location opens the BIN file at path.
func NewIP2Location(path string) (*IP2Location, error) {
	db, err := ip2location.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open IP2Location file: %w", err)
	}
	return &IP2Location{db: db}, nil
}

// Fetch resolves the given address against the BIN file.
func (r *IP2Location) Fetch(_ context.Context, ip netip.Addr) (Attributes, error) {
	rec, err := r.db.Get_all(ip.Unmap().String())
	if err != nil {
		return Attributes{}, fmt.Errorf("ip2location lookup failed: %w", err)
	}
	if rec.Country_short == "" || rec.Country_short == "-" {
		return Attributes{}, &LookupError{Message: "IP not found"}
	}

	attrs := Attributes{
		Type:        AddrType(ip),
		CountryCode: rec.Country_short,
		CountryName: ip2locationField(rec.Country_long),
		RegionName:  ip2locationField(rec.Region),
		City:        ip2locationField(rec.City),
		PostalCode:  ip2locationField(rec.Zipcode),
	}
	if rec.Latitude != 0 || rec.Longitude != 0 {
		attrs.Latitude = Float(float64(rec.Latitude))
		attrs.Longitude = Float(float64(rec.Longitude))
	}
	return attrs, nil
}

// Close releases the BIN file.
func (r *IP2Location) Close() error {
	r.db.Close()
	return nil
}

func ip2locationField(v string) string {
	if v == "-" || strings.HasPrefix(v, ip2locationUnavailable) {
		return ""
	}
	return v
}
