package backend

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/oakshade/farm-admin/internal/content"
	"github.com/oakshade/farm-admin/internal/core"
	"github.com/oakshade/farm-admin/internal/deploy"
	"github.com/oakshade/farm-admin/internal/followup"
	"github.com/oakshade/farm-admin/internal/images"
)

// APIService wires the admin HTTP routes to the record store, the image
// pipeline, the follow-up queue and the deploy runner.
type APIService struct {
	config    *core.ServiceConfig
	store     *content.Store
	pipeline  *images.Pipeline
	followups followup.Gateway
	deployer  *deploy.Runner
}

func NewAPIService(config *core.ServiceConfig, store *content.Store, pipeline *images.Pipeline, followups followup.Gateway, deployer *deploy.Runner) *APIService {
	return &APIService{
		config:    config,
		store:     store,
		pipeline:  pipeline,
		followups: followups,
		deployer:  deployer,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	// Probe route, unauthenticated
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "Admin service is running")
	})

	api := e.Group("/api")
	assets := e.Group(images.PublicPrefix)
	if !s.config.LocalMode {
		auth := middleware.BasicAuth(s.checkCredentials)
		api.Use(auth)
		assets.Use(auth)
	}

	// Stored assets are served back for the admin preview.
	assets.Static("/", s.config.ImageDir)

	api.GET("/animals", s.listAnimals)
	api.GET("/animals/:category/:id", s.getAnimal)
	api.POST("/animals/:category", s.createAnimal)
	api.PUT("/animals/:category/:id", s.updateAnimal)
	api.DELETE("/animals/:category/:id", s.deleteAnimal)

	api.POST("/upload/:category", s.uploadImages)
	api.DELETE("/images", s.deleteImage)

	api.GET("/followups", s.listFollowups)
	api.GET("/followups/count", s.followupCount)
	api.DELETE("/followups/:index", s.dismissFollowup)

	api.POST("/deploy", s.triggerDeploy)
}

func (s *APIService) checkCredentials(username, password string, _ echo.Context) (bool, error) {
	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(s.config.Auth.Username)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(s.config.Auth.Password)) == 1
	return userMatch && passMatch, nil
}

// errorBody renders the uniform error response shape.
func errorBody(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"error": message})
}

func successBody(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
