package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xueqianLu/ethcontract/internal/eventstore"
	"github.com/xueqianLu/ethcontract/internal/service"
)

// StorageHandler serves /api/storage.
type StorageHandler struct {
	managedRoutes
	storage *service.Storage
}

func NewStorageHandler(s *service.Storage, st *eventstore.Store) *StorageHandler {
	return &StorageHandler{
		managedRoutes: managedRoutes{m: s.Managed, events: st, defaultEvent: "DataChanged"},
		storage:       s,
	}
}

func (h *StorageHandler) Set(c *gin.Context) {
	value, err := amountParam(c, "value")
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.storage.Set(c.Request.Context(), value)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *StorageHandler) Get(c *gin.Context) {
	v, err := h.storage.Get(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ValueResponse{Value: v.String()})
}

func (h *StorageHandler) RegisterRoutes(g *gin.RouterGroup) {
	h.managedRoutes.registerRoutes(g)
	g.POST("/set", h.Set)
	g.GET("/get", h.Get)
}
