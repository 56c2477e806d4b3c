package denylist

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TomasB/geocache/internal/data"
	"github.com/TomasB/geocache/internal/handler/response"
	"github.com/TomasB/geocache/internal/service"
)

// DenyList is the part of the service used by the deny-list endpoints.
type DenyList interface {
	AddDeny(ctx context.Context, ip string) (data.DenyEntry, error)
	RemoveDeny(ctx context.Context, ip string, commitNow bool) error
	IsDenied(ctx context.Context, ip string) (bool, error)
	BulkAddDeny(ctx context.Context, ips []string) (service.DenyAddReport, error)
	BulkRemoveDeny(ctx context.Context, ips []string) (service.DenyRemoveReport, error)
}

// AddRequest represents the JSON body for adding one IP.
type AddRequest struct {
	IP string `json:"ip" binding:"required"`
}

// StatusResponse reports whether an IP is denied.
type StatusResponse struct {
	IP     string `json:"ip"`
	Denied bool   `json:"denied"`
}

// BulkAddResponse is the summary of a bulk add.
type BulkAddResponse struct {
	Added   []string       `json:"added"`
	Skipped BulkAddSkipped `json:"skipped"`
}

type BulkAddSkipped struct {
	InvalidFormat []string `json:"invalid_format"`
	NotFound      []string `json:"not_found"`
	AlreadyDenied []string `json:"already_denied"`
	Failed        []string `json:"failed"`
}

// BulkRemoveResponse is the summary of a bulk removal.
type BulkRemoveResponse struct {
	Removed []string          `json:"removed"`
	Skipped BulkRemoveSkipped `json:"skipped"`
}

type BulkRemoveSkipped struct {
	InvalidFormat []string `json:"invalid_format"`
	NotFound      []string `json:"not_found"`
	NotInDenyList []string `json:"not_in_denylist"`
	Failed        []string `json:"failed"`
}

// Handler manages deny-list endpoints.
type Handler struct {
	svc DenyList
}

// NewHandler creates a new deny-list handler.
func NewHandler(svc DenyList) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the endpoints on rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/denylist", h.Add)
	rg.GET("/denylist/:ip", h.Status)
	rg.DELETE("/denylist/:ip", h.Remove)
	rg.POST("/denylist/bulk", h.BulkAdd)
	rg.POST("/denylist/bulk-delete", h.BulkRemove)
}

// Add handles POST /api/v1/denylist
func (h *Handler) Add(c *gin.Context) {
	var req AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorBody{Error: "invalid request: " + err.Error()})
		return
	}

	if _, err := h.svc.AddDeny(c.Request.Context(), req.IP); err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, response.MessageBody{Message: "IP " + req.IP + " added to deny-list"})
}

// Status handles GET /api/v1/denylist/:ip
func (h *Handler) Status(c *gin.Context) {
	ip := c.Param("ip")

	denied, err := h.svc.IsDenied(c.Request.Context(), ip)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, StatusResponse{IP: ip, Denied: denied})
}

// Remove handles DELETE /api/v1/denylist/:ip
func (h *Handler) Remove(c *gin.Context) {
	ip := c.Param("ip")

	if err := h.svc.RemoveDeny(c.Request.Context(), ip, true); err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, response.MessageBody{Message: "IP " + ip + " removed from deny-list"})
}

// BulkAdd handles POST /api/v1/denylist/bulk
func (h *Handler) BulkAdd(c *gin.Context) {
	ips, ok := response.BindBulk(c)
	if !ok {
		return
	}

	report, err := h.svc.BulkAddDeny(c.Request.Context(), ips)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, BulkAddResponse{
		Added: report.Added,
		Skipped: BulkAddSkipped{
			InvalidFormat: report.Skipped.InvalidFormat,
			NotFound:      report.Skipped.NotFound,
			AlreadyDenied: report.Skipped.AlreadyDenied,
			Failed:        report.Skipped.Failed,
		},
	})
}

// BulkRemove handles POST /api/v1/denylist/bulk-delete
func (h *Handler) BulkRemove(c *gin.Context) {
	ips, ok := response.BindBulk(c)
	if !ok {
		return
	}

	report, err := h.svc.BulkRemoveDeny(c.Request.Context(), ips)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, BulkRemoveResponse{
		Removed: report.Removed,
		Skipped: BulkRemoveSkipped{
			InvalidFormat: report.Skipped.InvalidFormat,
			NotFound:      report.Skipped.NotFound,
			NotInDenyList: report.Skipped.NotInDenyList,
			Failed:        report.Skipped.Failed,
		},
	})
}
