package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/xueqianLu/ethcontract/pkg/log"
)

// AccountManager is the part of the signer the account endpoints use.
type AccountManager interface {
	From() common.Address
	GetAccounts() []common.Address
	CreateKey() (common.Address, error)
}

// AccountsHandler lists and creates signing accounts.
type AccountsHandler struct {
	km AccountManager
}

func NewAccountsHandler(km AccountManager) *AccountsHandler {
	return &AccountsHandler{km: km}
}

func (h *AccountsHandler) List(c *gin.Context) {
	accounts := h.km.GetAccounts()
	resp := AccountsResponse{From: h.km.From().Hex(), Accounts: make([]string, 0, len(accounts))}
	for _, acc := range accounts {
		resp.Accounts = append(resp.Accounts, acc.Hex())
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AccountsHandler) Create(c *gin.Context) {
	address, err := h.km.CreateKey()
	if err != nil {
		log.L(c.Request.Context()).Errorf("Failed to create new account: %s", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create new account: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, CreateAccountResponse{Address: address.Hex()})
}
