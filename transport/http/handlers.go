package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/surface"
)

// ApprovalSurface is the backend of the approval window.
type ApprovalSurface interface {
	Views() []surface.View
	View(key string) (surface.View, bool)
	Approve(ctx context.Context, key string, ttl time.Duration) error
	Deny(ctx context.Context, key string) error
	CloseWindow(ctx context.Context, key string) error
}

// AuthorizationAdmin lists and revokes authorizations.
type AuthorizationAdmin interface {
	List(ctx context.Context) ([]core.Authorization, error)
	RevokeAll(ctx context.Context) error
}

// Handlers contains the HTTP handlers
type Handlers struct {
	surface  ApprovalSurface
	auths    AuthorizationAdmin
	accounts SiteAccounts
}

// SiteAccounts resolves the account a site is connected with.
type SiteAccounts interface {
	AccountBySite(ctx context.Context, site string) (core.Account, error)
}

// NewHandlers creates new handlers
func NewHandlers(surface ApprovalSurface, auths AuthorizationAdmin) *Handlers {
	return &Handlers{
		surface: surface,
		auths:   auths,
	}
}

type approvalView struct {
	Key       string           `json:"key"`
	Window    int              `json:"window"`
	Flow      string           `json:"flow"`
	DApp      string           `json:"dapp,omitempty"`
	Version   string           `json:"version,omitempty"`
	Origin    string           `json:"origin"`
	Favicon   string           `json:"favicon"`
	RequestID int64            `json:"request_id"`
	TabID     int              `json:"tab_id"`
	Tx        *core.TxData     `json:"tx,omitempty"`
	Data      *core.DataBundle `json:"data,omitempty"`
}

func toView(v surface.View) approvalView {
	return approvalView{
		Key:       v.Key,
		Window:    v.WindowID,
		Flow:      v.Nav.Flow,
		DApp:      v.Nav.DApp,
		Version:   string(v.Nav.Version),
		Origin:    v.Nav.OriginURL,
		Favicon:   v.Nav.Favicon,
		RequestID: v.Nav.RequestID,
		TabID:     v.Nav.TabID,
		Tx:        v.Tx,
		Data:      v.Data,
	}
}

// Health reports liveness
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListApprovals lists open approval windows
func (h *Handlers) ListApprovals(c *gin.Context) {
	views := h.surface.Views()
	out := make([]approvalView, 0, len(views))
	for _, v := range views {
		out = append(out, toView(v))
	}
	c.JSON(http.StatusOK, gin.H{"approvals": out})
}

// GetApproval shows one approval window
func (h *Handlers) GetApproval(c *gin.Context) {
	key, ok := approvalKey(c)
	if !ok {
		return
	}

	v, ok := h.surface.View(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Approval not found"})
		return
	}

	c.JSON(http.StatusOK, toView(v))
}

// Approve handles the user's approval
func (h *Handlers) Approve(c *gin.Context) {
	key, ok := approvalKey(c)
	if !ok {
		return
	}

	var req struct {
		TTLSeconds int64 `json:"ttl_seconds"`
	}
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil || req.TTLSeconds < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}

	if err := h.surface.Approve(c.Request.Context(), key, time.Duration(req.TTLSeconds)*time.Second); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}

// Deny handles the user's denial
func (h *Handlers) Deny(c *gin.Context) {
	key, ok := approvalKey(c)
	if !ok {
		return
	}

	if err := h.surface.Deny(c.Request.Context(), key); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "denied"})
}

// Close handles the window being dismissed
func (h *Handlers) Close(c *gin.Context) {
	key, ok := approvalKey(c)
	if !ok {
		return
	}

	if err := h.surface.CloseWindow(c.Request.Context(), key); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

// ListAuthorizations lists live authorizations without their tokens
func (h *Handlers) ListAuthorizations(c *gin.Context) {
	auths, err := h.auths.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]gin.H, 0, len(auths))
	for _, a := range auths {
		out = append(out, gin.H{
			"dapp":       a.DApp,
			"hostname":   a.Site,
			"address":    a.Address,
			"version":    a.EffectiveVersion(),
			"expires_at": a.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{"authorizations": out})
}

// SiteAccount shows which account a site is connected with
func (h *Handlers) SiteAccount(c *gin.Context) {
	site := c.Param("site")
	acc, err := h.accounts.AccountBySite(c.Request.Context(), site)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"hostname": site, "address": acc.Address, "name": acc.Name})
}

// RevokeAll removes every authorization
func (h *Handlers) RevokeAll(c *gin.Context) {
	if err := h.auths.RevokeAll(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func approvalKey(c *gin.Context) (string, bool) {
	tab, err := strconv.Atoi(c.Param("tab"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tab id"})
		return "", false
	}
	request, err := strconv.ParseInt(c.Param("request"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request id"})
		return "", false
	}
	return core.ApprovalKey(tab, request), true
}

func writeError(c *gin.Context, err error) {
	statusCode := http.StatusInternalServerError
	errorMsg := "Internal error"

	// Map specific errors to appropriate status codes
	switch {
	case errors.Is(err, core.ErrApprovalNotFound):
		statusCode = http.StatusNotFound
		errorMsg = "Approval not found"
	case errors.Is(err, core.ErrNotFound):
		statusCode = http.StatusNotFound
		errorMsg = "Not found"
	case errors.Is(err, core.ErrAlreadyResolved), errors.Is(err, core.ErrApprovalClaimed):
		statusCode = http.StatusConflict
		errorMsg = "Approval already resolved"
	case errors.Is(err, core.ErrMalformedCommand):
		statusCode = http.StatusBadRequest
		errorMsg = err.Error()
	case errors.Is(err, core.ErrUpstreamFailure):
		statusCode = http.StatusBadGateway
		errorMsg = err.Error()
	}

	c.JSON(statusCode, gin.H{"error": errorMsg})
}
