// Package response holds the JSON shapes and error mapping shared by the HTTP handlers.
package response

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TomasB/geocache/internal/data"
	"github.com/TomasB/geocache/internal/service"
)

// DateFormat is the layout of Record.Date.
const DateFormat = "2006-01-02 15:04:05"

// Record is the JSON representation of a data.GeoRecord.
// Fields the provider did not supply are null.
type Record struct {
	IP            string   `json:"ip"`
	Type          *string  `json:"type"`
	ContinentCode *string  `json:"continent_code"`
	ContinentName *string  `json:"continent_name"`
	CountryCode   *string  `json:"country_code"`
	CountryName   *string  `json:"country_name"`
	RegionCode    *string  `json:"region_code"`
	RegionName    *string  `json:"region_name"`
	City          *string  `json:"city"`
	Zip           *string  `json:"zip"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	Date          string   `json:"date"`
}

// FromRecord converts rec for output.
func FromRecord(rec data.GeoRecord) Record {
	return Record{
		IP:            rec.IP,
		Type:          nullable(rec.Type),
		ContinentCode: nullable(rec.ContinentCode),
		ContinentName: nullable(rec.ContinentName),
		CountryCode:   nullable(rec.CountryCode),
		CountryName:   nullable(rec.CountryName),
		RegionCode:    nullable(rec.RegionCode),
		RegionName:    nullable(rec.RegionName),
		City:          nullable(rec.City),
		Zip:           nullable(rec.PostalCode),
		Latitude:      rec.Latitude,
		Longitude:     rec.Longitude,
		Date:          rec.FetchedAt.UTC().Format(DateFormat),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ErrorBody is returned for every failed request.
type ErrorBody struct {
	Error string `json:"error"`
}

// MessageBody is returned for successful mutations.
type MessageBody struct {
	Message string `json:"message"`
}

// BulkRequest is the body of every bulk endpoint.
type BulkRequest struct {
	IPs []string `json:"ips"`
}

// BindBulk decodes a BulkRequest and rejects a missing or empty ips field.
// It writes the 400 response itself and returns false on failure.
func BindBulk(c *gin.Context) ([]string, bool) {
	var req BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.IPs) == 0 {
		c.JSON(http.StatusBadRequest, ErrorBody{Error: `Field "ips" must be a non-empty array`})
		return nil, false
	}
	return req.IPs, true
}

// Status maps a service error kind to an HTTP status code.
func Status(kind service.Kind) int {
	switch kind {
	case service.KindInvalidInput:
		return http.StatusBadRequest
	case service.KindNotFound, service.KindProviderError:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindDenied:
		return http.StatusForbidden
	case service.KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err with the status of its kind. Internal details of storage
// and unclassified failures are logged, not returned.
func Error(c *gin.Context, err error) {
	kind := service.KindOf(err)
	status := Status(kind)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.Request.URL.Path, "kind", kind.String(), "error", err)
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(status, ErrorBody{Error: msg})
}
