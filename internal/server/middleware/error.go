package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openmind/core-gateway/pkg/api"
)

// ErrorHandler converts the last error attached to the context into the
// gateway's normalized wire shape. Nothing unmapped ever reaches the
// caller: unknown errors become Internal with the detail logged only.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		gwErr := api.Normalize(c.Errors.Last().Err)

		if gwErr.Log != nil {
			logger.Error("Request failed",
				zap.String("kind", string(gwErr.Kind)),
				zap.String("path", c.Request.URL.Path),
				zap.Error(gwErr.Log))
		}

		c.JSON(gwErr.HTTPStatus(), api.ErrorResponse{Message: gwErr.Message})
		c.Abort()
	}
}
