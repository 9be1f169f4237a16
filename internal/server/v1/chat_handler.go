package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmind/core-gateway/internal/gateway"
	"github.com/openmind/core-gateway/internal/ledger"
	"github.com/openmind/core-gateway/internal/server/middleware"
	"github.com/openmind/core-gateway/internal/server/validator"
	"github.com/openmind/core-gateway/internal/store/model"
	"github.com/openmind/core-gateway/pkg/api"
)

type ChatHandler struct {
	service   gateway.Service
	validator *validator.Validator
}

func NewChatHandler(service gateway.Service, v *validator.Validator) *ChatHandler {
	return &ChatHandler{
		service:   service,
		validator: v,
	}
}

func (h *ChatHandler) CreateCompletion(c *gin.Context) {
	providerID := c.Param("provider")

	var req api.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fields := h.validator.ParseError(err)
		_ = c.Error(api.InvalidRequestError("invalid request: " + validator.Describe(fields)))
		return
	}

	acct, ok := middleware.AccountFrom(c.Request.Context())
	if !ok {
		_ = c.Error(api.InternalError(errors.New("no account resolved for request")))
		return
	}

	// if we want to stream the response, roll down into streaming
	if req.Stream {
		h.handleStream(c, toLedgerAccount(acct), providerID, &req)
		return
	}

	resp, gwErr := h.service.Chat(c.Request.Context(), toLedgerAccount(acct), providerID, &req)
	if gwErr != nil {
		_ = c.Error(gwErr)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) handleStream(c *gin.Context, acct ledger.Account, providerID string, req *api.ChatRequest) {
	streamChan, gwErr := h.service.StreamChat(c.Request.Context(), acct, providerID, req)
	if gwErr != nil {
		// admission failed before any byte was written, answer in the
		// plain error shape with the mapped status
		_ = c.Error(gwErr)
		return
	}

	// set headers for sse
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	// consume the channel and flush to the caller
	c.Stream(func(w io.Writer) bool {
		result, ok := <-streamChan
		if !ok {
			// channel is closed
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return false
		}

		if result.Err != nil {
			data, _ := json.Marshal(api.ErrorResponse{Message: result.Err.Error()})
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			// if there's an error we will stop streaming
			return false
		}

		if result.Response != nil {
			data, err := json.Marshal(result.Response)
			if err == nil {
				_, err := fmt.Fprintf(w, "data: %s\n\n", data)
				return err == nil
			}
		}

		return true
	})
}

func toLedgerAccount(acct *model.Account) ledger.Account {
	return ledger.Account{
		ID:      acct.ID,
		Plan:    ledger.Plan(acct.Plan),
		RPS:     acct.RPS,
		Burst:   acct.Burst,
		Balance: acct.Balance,
	}
}
