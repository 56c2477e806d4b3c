package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultIPStackURL is the public ipstack endpoint.
	DefaultIPStackURL = "http://api.ipstack.com"

	maxIPStackBody = 1 << 20
)

// IPStack implements Provider against the ipstack.com HTTP API.
type IPStack struct {
	baseURL   string
	accessKey string
	client    *http.Client
}

// NewIPStack creates an ipstack client. A zero timeout falls back to 5s.
func NewIPStack(baseURL, accessKey string, timeout time.Duration) *IPStack {
	if baseURL == "" {
		baseURL = DefaultIPStackURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IPStack{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accessKey: accessKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ExpectContinueTimeout: timeout,
				MaxIdleConnsPerHost:   16,
			},
		},
	}
}

type ipstackResponse struct {
	Success *bool `json:"success"`
	Error   *struct {
		Code int    `json:"code"`
		Type string `json:"type"`
		Info string `json:"info"`
	} `json:"error"`

	IP            string   `json:"ip"`
	Type          string   `json:"type"`
	ContinentCode string   `json:"continent_code"`
	ContinentName string   `json:"continent_name"`
	CountryCode   string   `json:"country_code"`
	CountryName   string   `json:"country_name"`
	RegionCode    string   `json:"region_code"`
	RegionName    string   `json:"region_name"`
	City          string   `json:"city"`
	Zip           string   `json:"zip"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
}

// Fetch queries ipstack for the given address.
func (c *IPStack) Fetch(ctx context.Context, ip netip.Addr) (Attributes, error) {
	endpoint := c.baseURL + "/" + url.PathEscape(ip.String()) + "?access_key=" + url.QueryEscape(c.accessKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Attributes{}, fmt.Errorf("failed to build ipstack request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// url.Error carries the full URL including the access key.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return Attributes{}, fmt.Errorf("ipstack request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		io.Copy(io.Discard, resp.Body)
		return Attributes{}, fmt.Errorf("ipstack responded with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIPStackBody))
	if err != nil {
		return Attributes{}, fmt.Errorf("failed to read ipstack response: %w", err)
	}

	var parsed ipstackResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Attributes{}, fmt.Errorf("failed to decode ipstack response: %w", err)
	}

	if parsed.Success != nil && !*parsed.Success {
		info := "IP not found"
		if parsed.Error != nil && parsed.Error.Info != "" {
			info = parsed.Error.Info
		}
		return Attributes{}, &LookupError{Message: "IPStack API error: " + info}
	}
	if resp.StatusCode != http.StatusOK {
		return Attributes{}, fmt.Errorf("ipstack responded with status %d", resp.StatusCode)
	}

	attrs := Attributes{
		Type:          parsed.Type,
		ContinentCode: parsed.ContinentCode,
		ContinentName: parsed.ContinentName,
		CountryCode:   parsed.CountryCode,
		CountryName:   parsed.CountryName,
		RegionCode:    parsed.RegionCode,
		RegionName:    parsed.RegionName,
		City:          parsed.City,
		PostalCode:    parsed.Zip,
		Latitude:      parsed.Latitude,
		Longitude:     parsed.Longitude,
	}
	if attrs.Type == "" {
		attrs.Type = AddrType(ip)
	}
	return attrs, nil
}
