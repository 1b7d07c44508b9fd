package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ListModels serves GET /v1/models from the catalog.
func (h *Handler) ListModels(c *gin.Context) {
	now := time.Now().Unix()
	ids := h.Catalog.IDs()
	data := make([]modelEntry, 0, len(ids))
	for _, id := range ids {
		data = append(data, modelEntry{
			ID:      id,
			Object:  "model",
			Created: now,
			OwnedBy: "soragate",
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
	})
}
