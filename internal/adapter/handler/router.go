package handler

import (
	"embed"
	"fmt"
	"html/template"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templateFuncs = template.FuncMap{
	"tier": func(tier *int) string {
		if tier == nil {
			return ""
		}
		return fmt.Sprintf("T%d", *tier)
	},
	"tierValue": func(tier *int) string {
		if tier == nil {
			return ""
		}
		return fmt.Sprintf("%d", *tier)
	},
}

type RouterConfig struct {
	UploadDir       string
	UploadURLPrefix string
}

// NewRouter wires the admin pages, the JSON API, health, metrics and the
// uploaded images onto a gin engine.
func NewRouter(h *AdminHandler, cfg RouterConfig, logger *zap.Logger) (*gin.Engine, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	r := gin.New()
	r.Use(RequestLogger(logger), gin.Recovery())
	r.SetHTMLTemplate(tmpl)

	r.GET("/", h.Index)
	r.GET("/build/:id", h.ShowBuild)
	r.GET("/add-build", h.NewBuildForm)
	r.POST("/add-build", h.CreateBuildForm)
	r.GET("/edit-build/:id", h.EditBuildForm)
	r.POST("/update-build/:id", h.UpdateBuildForm)

	api := r.Group("/api/builds")
	{
		api.GET("", h.ListBuildsAPI)
		api.POST("", h.CreateBuildAPI)
		api.GET("/:id", h.GetBuildAPI)
		api.PUT("/:id", h.ReplaceBuildAPI)
	}

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.UploadDir != "" && cfg.UploadURLPrefix != "" {
		r.Static(cfg.UploadURLPrefix, cfg.UploadDir)
	}

	return r, nil
}
