// Package handler is the REST surface of the service, built on gin.
package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/xueqianLu/ethcontract/internal/eventstore"
	"github.com/xueqianLu/ethcontract/internal/middleware"
	"github.com/xueqianLu/ethcontract/internal/service"
)

// Dependencies are the components the routes are served from. Events may
// be nil when the event store is disabled.
type Dependencies struct {
	Accounts AccountManager
	Registry *service.Registry
	Events   *eventstore.Store
	Auth     *middleware.AuthMiddleware
}

// NewRouter wires every route. /health and /accounts are public, /api
// requires a signed request.
func NewRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())

	accounts := NewAccountsHandler(deps.Accounts)
	r.GET("/health", Health)
	r.GET("/accounts", accounts.List)

	api := r.Group("/api")
	if deps.Auth != nil {
		api.Use(deps.Auth.Middleware())
	}
	api.POST("/accounts", accounts.Create)
	NewERC20Handler(service.NewERC20(deps.Registry), deps.Events).RegisterRoutes(api.Group("/erc20"))
	NewStorageHandler(service.NewStorage(deps.Registry), deps.Events).RegisterRoutes(api.Group("/storage"))
	NewContractsHandler(deps.Registry).RegisterRoutes(api.Group("/contracts"))
	return r
}
