package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xueqianLu/ethcontract/internal/eventstore"
	"github.com/xueqianLu/ethcontract/internal/service"
)

// ERC20Handler serves /api/erc20.
type ERC20Handler struct {
	managedRoutes
	token *service.ERC20
}

func NewERC20Handler(token *service.ERC20, st *eventstore.Store) *ERC20Handler {
	return &ERC20Handler{
		managedRoutes: managedRoutes{m: token.Managed, events: st, defaultEvent: "Transfer"},
		token:         token,
	}
}

func (h *ERC20Handler) Mint(c *gin.Context) {
	to, err := addressParam(c, "to")
	if err != nil {
		writeError(c, err)
		return
	}
	amount, err := amountParam(c, "amount")
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.token.Mint(c.Request.Context(), to, amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ERC20Handler) Transfer(c *gin.Context) {
	to, err := addressParam(c, "to")
	if err != nil {
		writeError(c, err)
		return
	}
	amount, err := amountParam(c, "amount")
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.token.Transfer(c.Request.Context(), to, amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ERC20Handler) Approve(c *gin.Context) {
	spender, err := addressParam(c, "spender")
	if err != nil {
		writeError(c, err)
		return
	}
	amount, err := amountParam(c, "amount")
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.token.Approve(c.Request.Context(), spender, amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ERC20Handler) TransferFrom(c *gin.Context) {
	from, err := addressParam(c, "from")
	if err != nil {
		writeError(c, err)
		return
	}
	to, err := addressParam(c, "to")
	if err != nil {
		writeError(c, err)
		return
	}
	amount, err := amountParam(c, "amount")
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.token.TransferFrom(c.Request.Context(), from, to, amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ERC20Handler) Burn(c *gin.Context) {
	amount, err := amountParam(c, "amount")
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.token.Burn(c.Request.Context(), amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ERC20Handler) Balance(c *gin.Context) {
	account, err := addressParam(c, "account")
	if err != nil {
		writeError(c, err)
		return
	}
	bal, err := h.token.BalanceOf(c.Request.Context(), account)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, BalanceResponse{Account: account.Hex(), Balance: bal.String()})
}

func (h *ERC20Handler) Allowance(c *gin.Context) {
	owner, err := addressParam(c, "owner")
	if err != nil {
		writeError(c, err)
		return
	}
	spender, err := addressParam(c, "spender")
	if err != nil {
		writeError(c, err)
		return
	}
	allowance, err := h.token.Allowance(c.Request.Context(), owner, spender)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AllowanceResponse{Owner: owner.Hex(), Spender: spender.Hex(), Allowance: allowance.String()})
}

func (h *ERC20Handler) Info(c *gin.Context) {
	info, err := h.token.Info(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Transfers narrows Transfer events by ?sender= and ?recipient=.
func (h *ERC20Handler) Transfers(c *gin.Context) {
	sender, err := optionalAddressParam(c, "sender")
	if err != nil {
		writeError(c, err)
		return
	}
	recipient, err := optionalAddressParam(c, "recipient")
	if err != nil {
		writeError(c, err)
		return
	}
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
	records, err := h.token.Transfers(c.Request.Context(), start, to, sender, recipient)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, EventsResponse{Events: records})
}

func (h *ERC20Handler) RegisterRoutes(g *gin.RouterGroup) {
	h.managedRoutes.registerRoutes(g)
	g.POST("/mint", h.Mint)
	g.POST("/transfer", h.Transfer)
	g.POST("/approve", h.Approve)
	g.POST("/transferFrom", h.TransferFrom)
	g.POST("/burn", h.Burn)
	g.GET("/balance", h.Balance)
	g.GET("/allowance", h.Allowance)
	g.GET("/info", h.Info)
	g.GET("/transfers", h.Transfers)
}
