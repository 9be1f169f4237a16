package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmind/core-gateway/internal/gateway"
	"github.com/openmind/core-gateway/pkg/api"
)

type ModelsHandler struct {
	service gateway.Service
}

func NewModelsHandler(service gateway.Service) *ModelsHandler {
	return &ModelsHandler{service: service}
}

// ListProviders exposes the registry table: each provider with its
// accepted model prefixes, so callers can see what will be admitted.
func (h *ModelsHandler) ListProviders(c *gin.Context) {
	list := api.ProviderList{Object: "list"}

	for _, spec := range h.service.Providers() {
		list.Data = append(list.Data, api.ProviderInfo{
			ID:        spec.ID,
			Prefixes:  spec.Prefixes,
			Streaming: spec.Streaming,
		})
	}

	c.JSON(http.StatusOK, list)
}
