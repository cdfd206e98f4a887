package backend

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/oakshade/farm-admin/internal/followup"
)

func (s *APIService) listFollowups(c echo.Context) error {
	entries, err := s.followups.List(c.Request().Context())
	if err != nil {
		slog.Error("listFollowups: store error", "error", err)
		return errorBody(c, http.StatusInternalServerError, "follow-up store unavailable")
	}
	return c.JSON(http.StatusOK, entries)
}

// followupCount backs the admin UI's polling badge. The count is purely
// advisory, so a store failure is reported as an empty queue instead of
// an error the UI would surface on every poll.
func (s *APIService) followupCount(c echo.Context) error {
	count, err := s.followups.Count(c.Request().Context())
	if err != nil {
		slog.Warn("followupCount: store error, reporting empty queue", "error", err)
		count = 0
	}
	return c.JSON(http.StatusOK, map[string]int64{"count": count})
}

func (s *APIService) dismissFollowup(c echo.Context) error {
	index, err := strconv.ParseInt(c.Param("index"), 10, 64)
	if err != nil {
		return errorBody(c, http.StatusBadRequest, "invalid index")
	}

	if err := s.followups.RemoveAt(c.Request().Context(), index); err != nil {
		if errors.Is(err, followup.ErrNotFound) {
			return errorBody(c, http.StatusNotFound, "no follow-up at that index")
		}
		slog.Error("dismissFollowup: store error", "index", index, "error", err)
		return errorBody(c, http.StatusInternalServerError, "follow-up store unavailable")
	}
	return successBody(c)
}
