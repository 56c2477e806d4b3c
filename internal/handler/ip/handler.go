package ip

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TomasB/geocache/internal/data"
	"github.com/TomasB/geocache/internal/handler/response"
	"github.com/TomasB/geocache/internal/service"
)

// Resolver is the part of the service used by the IP endpoints.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (data.GeoRecord, error)
	Delete(ctx context.Context, ip string) error
	BulkResolve(ctx context.Context, ips []string) ([]service.LookupResult, error)
	BulkDelete(ctx context.Context, ips []string) (service.DeleteReport, error)
}

// BulkItemError is a failed entry of a bulk lookup.
type BulkItemError struct {
	IP    string `json:"ip"`
	Error string `json:"error"`
}

// BulkLookupResponse holds one entry per requested IP, in request order.
// Each entry is either a response.Record or a BulkItemError.
type BulkLookupResponse struct {
	Results []any `json:"results"`
}

// BulkDeleteResponse is the summary of a bulk delete.
type BulkDeleteResponse struct {
	Deleted []string `json:"deleted"`
	Errors  []string `json:"errors"`
}

// Handler manages IP geolocation endpoints.
type Handler struct {
	svc Resolver
}

// NewHandler creates a new IP handler on top of the given Resolver.
func NewHandler(svc Resolver) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the endpoints on rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/ip/:ip", h.Get)
	rg.DELETE("/ip/:ip", h.Delete)
	rg.POST("/ip/bulk", h.BulkGet)
	rg.POST("/ip/bulk-delete", h.BulkDelete)
}

// Get handles GET /api/v1/ip/:ip
func (h *Handler) Get(c *gin.Context) {
	ip := c.Param("ip")
	slog.Debug("lookup request received", "ip", ip)

	rec, err := h.svc.Resolve(c.Request.Context(), ip)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, response.FromRecord(rec))
}

// Delete handles DELETE /api/v1/ip/:ip
func (h *Handler) Delete(c *gin.Context) {
	ip := c.Param("ip")

	if err := h.svc.Delete(c.Request.Context(), ip); err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, response.MessageBody{Message: "IP " + ip + " deleted successfully"})
}

// BulkGet handles POST /api/v1/ip/bulk
func (h *Handler) BulkGet(c *gin.Context) {
	ips, ok := response.BindBulk(c)
	if !ok {
		return
	}

	results, err := h.svc.BulkResolve(c.Request.Context(), ips)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := BulkLookupResponse{Results: make([]any, 0, len(results))}
	for _, r := range results {
		if r.Err != nil {
			resp.Results = append(resp.Results, BulkItemError{IP: r.IP, Error: r.Err.Error()})
			continue
		}
		resp.Results = append(resp.Results, response.FromRecord(r.Record))
	}

	c.JSON(http.StatusOK, resp)
}

// BulkDelete handles POST /api/v1/ip/bulk-delete
func (h *Handler) BulkDelete(c *gin.Context) {
	ips, ok := response.BindBulk(c)
	if !ok {
		return
	}

	report, err := h.svc.BulkDelete(c.Request.Context(), ips)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, BulkDeleteResponse{Deleted: report.Deleted, Errors: report.Errors})
}
