package openai

import (
	"net/http"

	"k2api-go/internal/translator"

	"github.com/gin-gonic/gin"
)

// Models handles GET /v1/models.
func (h *Handler) Models(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", translator.ModelList())
}
