package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/soragate/soragate/internal/catalog"
	"github.com/soragate/soragate/internal/common"
	"github.com/soragate/soragate/internal/job"
	"github.com/soragate/soragate/internal/pool"
)

type Handler struct {
	Catalog *catalog.Catalog
	Jobs    *job.Service
	Pool    *pool.Pool
}

func NewHandler(cat *catalog.Catalog, jobs *job.Service, p *pool.Pool) *Handler {
	return &Handler{Catalog: cat, Jobs: jobs, Pool: p}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"status": "up"})
}
