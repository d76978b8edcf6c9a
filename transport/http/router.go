package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Surface        ApprovalSurface
	Authorizations AuthorizationAdmin
	Accounts       SiteAccounts // optional
	APIToken       string
	Bridge         http.Handler // page bridge, optional
}

// SetupRouter sets up the Gin router
func SetupRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	handlers := NewHandlers(cfg.Surface, cfg.Authorizations)
	handlers.accounts = cfg.Accounts

	router.GET("/healthz", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.Bridge != nil {
		router.GET("/bridge", gin.WrapH(cfg.Bridge))
	}

	// Approval surface, reachable by the wallet UI only
	consent := router.Group("/consent")
	consent.Use(TokenMiddleware(cfg.APIToken))
	{
		consent.GET("", handlers.ListApprovals)
		consent.GET("/:tab/:request", handlers.GetApproval)
		consent.POST("/:tab/:request/approve", handlers.Approve)
		consent.POST("/:tab/:request/deny", handlers.Deny)
		consent.POST("/:tab/:request/close", handlers.Close)
	}

	admin := router.Group("/authorizations")
	admin.Use(TokenMiddleware(cfg.APIToken))
	{
		admin.GET("", handlers.ListAuthorizations)
		admin.DELETE("", handlers.RevokeAll)
		if cfg.Accounts != nil {
			admin.GET("/:site/account", handlers.SiteAccount)
		}
	}

	return router
}
