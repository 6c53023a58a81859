package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xueqianLu/ethcontract/internal/eventstore"
	"github.com/xueqianLu/ethcontract/internal/service"
	"github.com/xueqianLu/ethcontract/pkg/contract"
)

const maxStoredEvents = 1000

// managedRoutes serves the lifecycle endpoints shared by the bundled
// contracts: deploy, load, address and event queries.
type managedRoutes struct {
	m            *service.Managed
	events       *eventstore.Store
	defaultEvent string
}

func (h *managedRoutes) Deploy(c *gin.Context) {
	res, err := h.m.Deploy(c.Request.Context(), nil)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *managedRoutes) Load(c *gin.Context) {
	address, err := addressParam(c, "address")
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.m.Load(c.Request.Context(), address); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AddressResponse{Name: h.m.Name(), Address: address.Hex()})
}

func (h *managedRoutes) Address(c *gin.Context) {
	address, ok := h.m.Address()
	if !ok {
		writeError(c, fmt.Errorf("%s: %w", h.m.Name(), contract.ErrNotBound))
		return
	}
	c.JSON(http.StatusOK, AddressResponse{Name: h.m.Name(), Address: address.Hex()})
}

// Events queries the chain for past logs of ?name= over [fromBlock, toBlock].
func (h *managedRoutes) Events(c *gin.Context) {
	name := c.DefaultQuery("name", h.defaultEvent)
	from, err := blockParam(c, "fromBlock")
	if err != nil {
		writeError(c, err)
		return
	}
	to, err := blockParam(c, "toBlock")
	if err != nil {
		writeError(c, err)
		return
	}
	var start uint64
	if from != nil {
		start = *from
	}
	records, err := h.m.Events(c.Request.Context(), name, start, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, EventsResponse{Events: records})
}

// StoredEvents reads events persisted by the listener, newest first.
func (h *managedRoutes) StoredEvents(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "event store is disabled"})
		return
	}
	q := eventstore.Query{Contract: h.m.Name(), Event: c.Query("name")}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxStoredEvents {
			badRequest(c, fmt.Sprintf("limit must be between 1 and %d", maxStoredEvents))
			return
		}
		q.Limit = n
	}
	rows, err := h.events.Find(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, StoredEventsResponse{Events: rows})
}

func (h *managedRoutes) registerRoutes(g *gin.RouterGroup) {
	g.POST("/deploy", h.Deploy)
	g.POST("/load", h.Load)
	g.GET("/address", h.Address)
	g.GET("/events", h.Events)
	g.GET("/events/stored", h.StoredEvents)
}
