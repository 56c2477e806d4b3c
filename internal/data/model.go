package data

import (
	"net/netip"
	"time"
)

// Address families reported in GeoRecord.Type.
const (
	TypeIPv4 = "ipv4"
	TypeIPv6 = "ipv6"
)

// Attributes are the descriptive fields a provider returns for one address.
// Empty strings and nil coordinates mean the provider did not supply a value.
type Attributes struct {
	Type          string
	ContinentCode string
	ContinentName string
	CountryCode   string
	CountryName   string
	RegionCode    string
	RegionName    string
	City          string
	PostalCode    string
	Latitude      *float64
	Longitude     *float64
}

// GeoRecord is the cached geolocation of one IP address.
type GeoRecord struct {
	IP string
	Attributes
	FetchedAt time.Time
}

// Apply overwrites every descriptive field with attrs and stamps FetchedAt.
func (r *GeoRecord) Apply(attrs Attributes, fetchedAt time.Time) {
	r.Attributes = attrs
	r.FetchedAt = fetchedAt
}

// DenyEntry marks an IP whose lookups are refused.
type DenyEntry struct {
	IP       string
	DeniedAt time.Time
}

// AddrType returns the address family of ip as used in GeoRecord.Type.
func AddrType(ip netip.Addr) string {
	if ip.Is4() || ip.Is4In6() {
		return TypeIPv4
	}
	return TypeIPv6
}

// Float returns a pointer to f, for filling optional coordinates.
func Float(f float64) *float64 {
	return &f
}
