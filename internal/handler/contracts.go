package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/xueqianLu/ethcontract/internal/service"
)

// ContractsHandler serves the generic surface over every named contract:
// runtime registration by ABI plus call and send of any function.
type ContractsHandler struct {
	reg *service.Registry
}

func NewContractsHandler(reg *service.Registry) *ContractsHandler {
	return &ContractsHandler{reg: reg}
}

func (h *ContractsHandler) List(c *gin.Context) {
	resp := ContractsResponse{Contracts: []ContractInfo{}}
	for _, name := range h.reg.Names() {
		m, err := h.reg.Get(name)
		if err != nil {
			continue
		}
		info := ContractInfo{Name: name}
		if addr, ok := m.Address(); ok {
			info.Address, info.Bound = addr.Hex(), true
		}
		resp.Contracts = append(resp.Contracts, info)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ContractsHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		badRequest(c, fmt.Sprintf("invalid address %q", req.Address))
		return
	}
	address := common.HexToAddress(req.Address)
	m, err := h.reg.Register(c.Request.Context(), c.Param("name"), req.ABI, address)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, AddressResponse{Name: m.Name(), Address: address.Hex()})
}

// invokeRequest decodes the optional body, keeping JSON numbers exact.
func invokeRequest(c *gin.Context) (*InvokeRequest, error) {
	req := &InvokeRequest{}
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(req); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", errInput, err)
	}
	if req.Args == nil {
		req.Args = []any{}
	}
	return req, nil
}

func (h *ContractsHandler) Call(c *gin.Context) {
	m, err := h.reg.Get(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	req, err := invokeRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}
	fn := c.Param("function")
	out, err := m.CallRaw(c.Request.Context(), fn, req.Args)
	if err != nil {
		writeError(c, err)
		return
	}
	outputs := make([]any, len(out))
	for i, v := range out {
		outputs[i] = v
	}
	c.JSON(http.StatusOK, CallResponse{Function: fn, Outputs: outputs})
}

func (h *ContractsHandler) Send(c *gin.Context) {
	m, err := h.reg.Get(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	req, err := invokeRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}
	opts, err := req.sendOptions()
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := m.SendRaw(c.Request.Context(), c.Param("function"), opts, req.Args)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ContractsHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("", h.List)
	g.POST("/:name", h.Register)
	g.POST("/:name/call/:function", h.Call)
	g.POST("/:name/send/:function", h.Send)
}
