package backend

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type deployResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *APIService) triggerDeploy(c echo.Context) error {
	message, err := s.deployer.Trigger(c.Request().Context())
	if err != nil {
		if message == "" {
			message = err.Error()
		}
		return c.JSON(http.StatusInternalServerError, deployResponse{Success: false, Message: message})
	}
	return c.JSON(http.StatusOK, deployResponse{Success: true, Message: message})
}
