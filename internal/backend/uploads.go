package backend

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/oakshade/farm-admin/internal/content"
	"github.com/oakshade/farm-admin/internal/images"
)

type uploadResponse struct {
	Images []images.AssetPair `json:"images"`
	// Urls lists the full-size references only, the shape older admin
	// clients expect.
	Urls []string `json:"urls"`
}

func (s *APIService) uploadImages(c echo.Context) error {
	category := c.Param("category")
	if !content.ValidCategory(category) {
		return errorBody(c, http.StatusBadRequest, "invalid category")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return errorBody(c, http.StatusBadRequest, "invalid multipart form")
	}
	files := form.File["images"]
	if len(files) == 0 {
		return errorBody(c, http.StatusBadRequest, "no images supplied")
	}
	if len(files) > images.MaxFilesPerUpload {
		return errorBody(c, http.StatusBadRequest,
			fmt.Sprintf("at most %d images per upload", images.MaxFilesPerUpload))
	}

	uploads := make([]images.Upload, 0, len(files))
	for _, header := range files {
		if header.Size > images.MaxUploadBytes {
			return errorBody(c, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("%s exceeds the %d MiB limit", header.Filename, images.MaxUploadBytes>>20))
		}
		data, err := readUpload(header)
		if err != nil {
			slog.Error("uploadImages: failed to read upload", "filename", header.Filename, "error", err)
			return errorBody(c, http.StatusBadRequest, fmt.Sprintf("failed to read %s", header.Filename))
		}
		uploads = append(uploads, images.Upload{Name: header.Filename, Data: data})
	}

	pairs, err := s.pipeline.IngestAll(c.Request().Context(), uploads, category)
	if err != nil {
		switch {
		case errors.Is(err, images.ErrUnsupportedMedia):
			return errorBody(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, images.ErrTooLarge):
			return errorBody(c, http.StatusRequestEntityTooLarge, err.Error())
		}
		slog.Error("uploadImages: batch failed", "category", category, "error", err)
		return errorBody(c, http.StatusInternalServerError, "image processing failed")
	}

	urls := make([]string, len(pairs))
	for i, pair := range pairs {
		urls[i] = pair.Full
	}
	return c.JSON(http.StatusOK, uploadResponse{Images: pairs, Urls: urls})
}

type deleteImageRequest struct {
	Path string `json:"path"`
}

func (s *APIService) deleteImage(c echo.Context) error {
	var request deleteImageRequest
	if err := c.Bind(&request); err != nil {
		return errorBody(c, http.StatusBadRequest, "invalid request body")
	}

	if err := s.pipeline.Remove(request.Path); err != nil {
		switch {
		case errors.Is(err, images.ErrInvalidPath):
			return errorBody(c, http.StatusBadRequest, "invalid path")
		case errors.Is(err, images.ErrNotFound):
			return errorBody(c, http.StatusNotFound, "image not found")
		}
		slog.Error("deleteImage: failed", "path", request.Path, "error", err)
		return errorBody(c, http.StatusInternalServerError, "failed to delete image")
	}
	return successBody(c)
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			slog.Warn("failed to close uploaded file reader", "filename", header.Filename, "error", closeErr)
		}
	}()
	return io.ReadAll(src)
}
