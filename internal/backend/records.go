package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/oakshade/farm-admin/internal/content"
)

type createAnimalRequest struct {
	Name         string             `json:"name" validate:"required"`
	Description  string             `json:"description" validate:"required"`
	Availability string             `json:"availability" validate:"required,oneof=available limited unavailable"`
	Images       []content.ImageRef `json:"images"`
}

type updateAnimalRequest struct {
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	Availability string             `json:"availability" validate:"omitempty,oneof=available limited unavailable"`
	Images       []content.ImageRef `json:"images"`
}

func (s *APIService) listAnimals(c echo.Context) error {
	response := make(map[string][]content.Record, len(content.Categories))
	for _, category := range content.Categories {
		records, err := s.store.List(category)
		if err != nil {
			slog.Error("listAnimals: failed to list records", "category", category, "error", err)
			return errorBody(c, http.StatusInternalServerError, "failed to list animals")
		}
		response[category] = records
	}
	return c.JSON(http.StatusOK, response)
}

func (s *APIService) getAnimal(c echo.Context) error {
	category := c.Param("category")
	if !content.ValidCategory(category) {
		return errorBody(c, http.StatusBadRequest, "invalid category")
	}

	record, err := s.store.Get(category, c.Param("id"))
	if err != nil {
		return s.recordError(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

func (s *APIService) createAnimal(c echo.Context) error {
	category := c.Param("category")
	if !content.ValidCategory(category) {
		return errorBody(c, http.StatusBadRequest, "invalid category")
	}

	var request createAnimalRequest
	if err := c.Bind(&request); err != nil {
		return errorBody(c, http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&request); err != nil {
		return validationError(c, err)
	}

	record, err := s.store.Create(category, content.Fields{
		Name:         request.Name,
		Description:  request.Description,
		Availability: request.Availability,
		Images:       request.Images,
	})
	if err != nil {
		return s.recordError(c, err)
	}
	return c.JSON(http.StatusCreated, record)
}

func (s *APIService) updateAnimal(c echo.Context) error {
	category := c.Param("category")
	if !content.ValidCategory(category) {
		return errorBody(c, http.StatusBadRequest, "invalid category")
	}

	var request updateAnimalRequest
	if err := c.Bind(&request); err != nil {
		return errorBody(c, http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&request); err != nil {
		return validationError(c, err)
	}

	record, err := s.store.Update(category, c.Param("id"), content.Fields{
		Name:         request.Name,
		Description:  request.Description,
		Availability: request.Availability,
		Images:       request.Images,
	})
	if err != nil {
		return s.recordError(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

func (s *APIService) deleteAnimal(c echo.Context) error {
	category := c.Param("category")
	if !content.ValidCategory(category) {
		return errorBody(c, http.StatusBadRequest, "invalid category")
	}

	if err := s.store.Delete(category, c.Param("id")); err != nil {
		return s.recordError(c, err)
	}
	return successBody(c)
}

// recordError maps store errors onto the HTTP error taxonomy.
func (s *APIService) recordError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, content.ErrNotFound):
		return errorBody(c, http.StatusNotFound, "not found")
	case errors.Is(err, content.ErrConflict):
		return errorBody(c, http.StatusConflict, "an animal with this name already exists")
	case errors.Is(err, content.ErrInvalidInput):
		return errorBody(c, http.StatusBadRequest, err.Error())
	}
	slog.Error("record operation failed", "error", err)
	return errorBody(c, http.StatusInternalServerError, "internal error")
}

// validationError rewraps echo's HTTPError so validation failures use the
// same response shape as everything else.
func validationError(c echo.Context, err error) error {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return errorBody(c, httpErr.Code, fmt.Sprintf("%v", httpErr.Message))
	}
	return errorBody(c, http.StatusBadRequest, err.Error())
}
