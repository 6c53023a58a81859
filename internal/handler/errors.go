package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xueqianLu/ethcontract/internal/service"
	"github.com/xueqianLu/ethcontract/internal/store"
	"github.com/xueqianLu/ethcontract/pkg/abi"
	"github.com/xueqianLu/ethcontract/pkg/contract"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
	"github.com/xueqianLu/ethcontract/pkg/events"
	"github.com/xueqianLu/ethcontract/pkg/log"
	"github.com/xueqianLu/ethcontract/pkg/txmgr"
)

// errInput marks request validation failures.
var errInput = errors.New("invalid request")

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// statusOf maps engine and service errors onto HTTP statuses.
func statusOf(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Error: err.Error()}
	var (
		rejected *txmgr.SubmissionRejectedError
		reverted *txmgr.ExecutionRevertedError
		timeout  *txmgr.ConfirmationTimeoutError
		rpcErr   *ethrpc.RPCError
		trErr    *ethrpc.TransportError
	)
	switch {
	case errors.As(err, &reverted):
		resp.Reason = reverted.Reason
		if reverted.Receipt != nil {
			resp.TransactionHash = reverted.Receipt.TransactionHash.Hex()
		}
		return http.StatusUnprocessableEntity, resp
	case errors.As(err, &timeout):
		resp.TransactionHash = timeout.Hash.Hex()
		return http.StatusGatewayTimeout, resp
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, txmgr.ErrUndecodableResult):
		return http.StatusBadGateway, resp
	case errors.Is(err, contract.ErrNotBound), errors.Is(err, contract.ErrAlreadyBound):
		return http.StatusConflict, resp
	case errors.Is(err, service.ErrUnknownContract), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, resp
	case errors.Is(err, errInput),
		errors.Is(err, abi.ErrArgumentMismatch),
		errors.Is(err, abi.ErrMalformedABIData),
		errors.Is(err, abi.ErrUnknownFunction),
		errors.Is(err, abi.ErrUnknownEvent),
		errors.Is(err, events.ErrLogMismatch),
		errors.Is(err, service.ErrReadOnly),
		errors.Is(err, service.ErrNoBytecode),
		errors.Is(err, service.ErrInvalidContract):
		return http.StatusBadRequest, resp
	case errors.As(err, &rpcErr), errors.As(err, &trErr):
		return http.StatusBadGateway, resp
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, resp
	}
	return http.StatusInternalServerError, resp
}

func writeError(c *gin.Context, err error) {
	status, resp := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.L(c.Request.Context()).Errorf("Request failed: %s", err)
	}
	_ = c.Error(err)
	c.JSON(status, resp)
}
