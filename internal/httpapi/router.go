package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soragate/soragate/internal/catalog"
	"github.com/soragate/soragate/internal/common"
	"github.com/soragate/soragate/internal/config"
	"github.com/soragate/soragate/internal/httpapi/handlers"
	"github.com/soragate/soragate/internal/httpapi/middleware"
	"github.com/soragate/soragate/internal/job"
	"github.com/soragate/soragate/internal/pool"
)

func NewRouter(cfg config.Config, cat *catalog.Catalog, jobs *job.Service, p *pool.Pool) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(cat, jobs, p)

	r.GET("/ping", h.Ping)

	v1 := r.Group("/v1")
	v1.Use(middleware.APIKeyRequired(cfg.APIKeys))
	v1.GET("/models", h.ListModels)
	v1.POST("/chat/completions", h.CreateChatCompletion)

	return r
}
