package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"

	"github.com/oakshade/farm-admin/internal/common"
	"github.com/oakshade/farm-admin/internal/content"
	"github.com/oakshade/farm-admin/internal/core"
	"github.com/oakshade/farm-admin/internal/deploy"
	"github.com/oakshade/farm-admin/internal/followup"
	"github.com/oakshade/farm-admin/internal/images"
)

type testEnv struct {
	server     *echo.Echo
	redis      *miniredis.Miniredis
	contentDir string
	imageDir   string
	localMode  bool
}

func newTestEnv(t *testing.T, localMode bool, deployCommand []string) *testEnv {
	t.Helper()

	env := &testEnv{
		redis:      miniredis.RunT(t),
		contentDir: t.TempDir(),
		imageDir:   t.TempDir(),
		localMode:  localMode,
	}

	config := &core.ServiceConfig{
		Port:       3001,
		LocalMode:  localMode,
		ContentDir: env.contentDir,
		ImageDir:   env.imageDir,
		Auth:       core.AuthConfig{Username: "admin", Password: "secret"},
		Redis:      core.RedisConfig{Address: env.redis.Addr(), QueueKey: "followup_queue"},
	}

	gateway := followup.NewRedisGateway(env.redis.Addr(), "followup_queue")
	t.Cleanup(func() { _ = gateway.Close() })

	service := NewAPIService(config,
		content.NewStore(env.contentDir),
		images.NewPipeline(env.imageDir),
		gateway,
		deploy.NewRunner(deployCommand, 10*time.Second))

	env.server = echo.New()
	env.server.Validator = common.NewRequestValidator()
	service.SetRoutes(env.server)
	return env
}

func (env *testEnv) do(method, target, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	if !env.localMode {
		req.SetBasicAuth("admin", "secret")
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) doJSON(method, target string, payload any) *httptest.ResponseRecorder {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return env.do(method, target, echo.MIMEApplicationJSON, bytes.NewReader(data))
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(rec.Body.Bytes(), &value); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return value
}

func uploadJPEG(t *testing.T, env *testEnv, category string, filename string, width, height int) *httptest.ResponseRecorder {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var encoded bytes.Buffer
	if err := jpeg.Encode(&encoded, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("failed to encode test JPEG: %v", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("images", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(encoded.Bytes()); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	return env.do(http.MethodPost, "/api/upload/"+category, writer.FormDataContentType(), &body)
}

func (env *testEnv) assetFilePath(publicPath string) string {
	rel := strings.TrimPrefix(publicPath, images.PublicPrefix+"/")
	return filepath.Join(env.imageDir, filepath.FromSlash(rel))
}

func TestAPI_AnimalLifecycle(t *testing.T) {
	env := newTestEnv(t, true, nil)

	// Create
	rec := env.doJSON(http.MethodPost, "/api/animals/chickens", map[string]any{
		"name":         "Henrietta!!",
		"description":  "A very loud hen",
		"availability": "limited",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[content.Record](t, rec)
	if created.ID != "henrietta" {
		t.Errorf("expected id 'henrietta', got %q", created.ID)
	}
	if created.Availability != "limited" {
		t.Errorf("expected availability 'limited', got %q", created.Availability)
	}

	// Fetch it back
	rec = env.do(http.MethodGet, "/api/animals/chickens/henrietta", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	fetched := decodeBody[content.Record](t, rec)
	if fetched.Name != "Henrietta!!" || fetched.Availability != "limited" {
		t.Errorf("fetched record mismatch: %+v", fetched)
	}

	// Duplicate slug conflicts
	rec = env.doJSON(http.MethodPost, "/api/animals/chickens", map[string]any{
		"name":         "Henrietta!!",
		"description":  "Another hen",
		"availability": "available",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}

	// Partial update keeps unspecified fields
	rec = env.doJSON(http.MethodPut, "/api/animals/chickens/henrietta", map[string]any{
		"description": "Now quite calm",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[content.Record](t, rec)
	if updated.Description != "Now quite calm" {
		t.Errorf("expected updated description, got %q", updated.Description)
	}
	if updated.Availability != "limited" {
		t.Errorf("partial update changed availability to %q", updated.Availability)
	}

	// Listing groups by category
	rec = env.do(http.MethodGet, "/api/animals", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	listing := decodeBody[map[string][]content.Record](t, rec)
	if len(listing["chickens"]) != 1 || len(listing["goats"]) != 0 {
		t.Errorf("unexpected listing: %+v", listing)
	}

	// Delete
	rec = env.do(http.MethodDelete, "/api/animals/chickens/henrietta", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(http.MethodGet, "/api/animals/chickens/henrietta", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestAPI_InvalidCategory(t *testing.T) {
	env := newTestEnv(t, true, nil)

	routes := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/api/animals/cows/bessie"},
		{http.MethodPost, "/api/animals/cows"},
		{http.MethodPut, "/api/animals/cows/bessie"},
		{http.MethodDelete, "/api/animals/cows/bessie"},
		{http.MethodPost, "/api/upload/cows"},
	}
	for _, route := range routes {
		rec := env.doJSON(route.method, route.target, map[string]any{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s %s: expected 400, got %d", route.method, route.target, rec.Code)
		}
		body := decodeBody[map[string]string](t, rec)
		if body["error"] == "" {
			t.Errorf("%s %s: expected structured error body, got %s", route.method, route.target, rec.Body.String())
		}
	}
}

func TestAPI_CreateMissingFields(t *testing.T) {
	env := newTestEnv(t, true, nil)

	payloads := []map[string]any{
		{"description": "no name", "availability": "available"},
		{"name": "Hen", "availability": "available"},
		{"name": "Hen", "description": "no availability"},
		{"name": "Hen", "description": "bad availability", "availability": "gone"},
	}
	for i, payload := range payloads {
		rec := env.doJSON(http.MethodPost, "/api/animals/chickens", payload)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("payload %d: expected 400, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}
}

func TestAPI_Upload(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rec := uploadJPEG(t, env, "chickens", "Hen Portrait.jpg", 2000, 1200)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	response := decodeBody[struct {
		Images []images.AssetPair `json:"images"`
		Urls   []string           `json:"urls"`
	}](t, rec)

	if len(response.Images) != 1 {
		t.Fatalf("expected one asset pair, got %d", len(response.Images))
	}
	pair := response.Images[0]
	if len(response.Urls) != 1 || response.Urls[0] != pair.Full {
		t.Errorf("urls should list the full-size references: %+v", response.Urls)
	}

	for _, check := range []struct {
		path     string
		maxWidth int
	}{
		{pair.Full, images.FullMaxWidth},
		{pair.Thumb, images.ThumbMaxWidth},
	} {
		data, err := os.ReadFile(env.assetFilePath(check.path))
		if err != nil {
			t.Fatalf("asset %s not written: %v", check.path, err)
		}
		config, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("asset %s not decodable: %v", check.path, err)
		}
		if config.Width > check.maxWidth {
			t.Errorf("asset %s is %d wide, bound is %d", check.path, config.Width, check.maxWidth)
		}
	}
}

func TestAPI_Upload_RejectsNonImage(t *testing.T) {
	env := newTestEnv(t, true, nil)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("images", "notes.txt")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	fmt.Fprint(part, "this is not an image")
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	rec := env.do(http.MethodPost, "/api/upload/chickens", writer.FormDataContentType(), &body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_DeleteImage(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rec := uploadJPEG(t, env, "goats", "billy.jpg", 900, 600)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload failed: %d %s", rec.Code, rec.Body.String())
	}
	response := decodeBody[struct {
		Images []images.AssetPair `json:"images"`
	}](t, rec)
	pair := response.Images[0]

	rec = env.doJSON(http.MethodDelete, "/api/images", map[string]string{"path": pair.Full})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	// Sibling thumbnail removed too
	if _, err := os.Stat(env.assetFilePath(pair.Thumb)); !os.IsNotExist(err) {
		t.Errorf("expected thumbnail sibling to be deleted")
	}

	// Deleting again reports not found
	rec = env.doJSON(http.MethodDelete, "/api/images", map[string]string{"path": pair.Full})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", rec.Code)
	}

	// Paths outside the image root are rejected
	for _, path := range []string{"/etc/passwd", images.PublicPrefix + "/../../etc/passwd", ""} {
		rec = env.doJSON(http.MethodDelete, "/api/images", map[string]string{"path": path})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("path %q: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestAPI_RecordDeleteDoesNotCascadeToImages(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rec := uploadJPEG(t, env, "chickens", "hen.jpg", 600, 400)
	response := decodeBody[struct {
		Images []images.AssetPair `json:"images"`
	}](t, rec)
	pair := response.Images[0]

	rec = env.doJSON(http.MethodPost, "/api/animals/chickens", map[string]any{
		"name":         "Henrietta",
		"description":  "A hen with a portrait",
		"availability": "available",
		"images":       []map[string]string{{"full": pair.Full, "thumb": pair.Thumb}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodDelete, "/api/animals/chickens/henrietta", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete failed: %d", rec.Code)
	}

	// The assets survive the record
	for _, path := range []string{pair.Full, pair.Thumb} {
		if _, err := os.Stat(env.assetFilePath(path)); err != nil {
			t.Errorf("asset %s should have survived the record delete: %v", path, err)
		}
	}
}

func TestAPI_LegacyImageStringsAccepted(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rec := env.doJSON(http.MethodPost, "/api/animals/goats", map[string]any{
		"name":         "Old Timer",
		"description":  "Hand-edited record",
		"availability": "unavailable",
		"images":       []string{"/images/goats/old-timer.jpg"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[content.Record](t, rec)
	if len(created.Images) != 1 || created.Images[0].Full != "/images/goats/old-timer.jpg" {
		t.Errorf("legacy image reference mismatch: %+v", created.Images)
	}
}

func TestAPI_Followups(t *testing.T) {
	env := newTestEnv(t, true, nil)

	for i, question := range []string{"Do you ship eggs?", "Any wethers available?"} {
		payload, _ := json.Marshal(map[string]any{
			"sender_id":    fmt.Sprintf("visitor-%d", i+1),
			"question":     question,
			"bot_response": "Let me check with the farmer.",
			"timestamp":    1700000000 + i,
		})
		if _, err := env.redis.RPush("followup_queue", string(payload)); err != nil {
			t.Fatalf("failed to seed queue: %v", err)
		}
	}

	rec := env.do(http.MethodGet, "/api/followups/count", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("count failed: %d", rec.Code)
	}
	count := decodeBody[map[string]int64](t, rec)
	if count["count"] != 2 {
		t.Errorf("expected count 2, got %d", count["count"])
	}

	rec = env.do(http.MethodGet, "/api/followups", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed: %d", rec.Code)
	}
	entries := decodeBody[[]followup.Entry](t, rec)
	if len(entries) != 2 || entries[0].Index != 0 || entries[1].Index != 1 {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	rec = env.do(http.MethodDelete, "/api/followups/0", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dismiss failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/api/followups", "", nil)
	entries = decodeBody[[]followup.Entry](t, rec)
	if len(entries) != 1 || entries[0].Question != "Any wethers available?" {
		t.Errorf("unexpected entries after dismiss: %+v", entries)
	}

	// Out-of-range and non-numeric indexes
	rec = env.do(http.MethodDelete, "/api/followups/9", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for out-of-range index, got %d", rec.Code)
	}
	rec = env.do(http.MethodDelete, "/api/followups/abc", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric index, got %d", rec.Code)
	}
}

func TestAPI_FollowupStoreDown(t *testing.T) {
	env := newTestEnv(t, true, nil)
	env.redis.Close()

	// The polling count route soft-fails to an empty queue
	rec := env.do(http.MethodGet, "/api/followups/count", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from count with store down, got %d", rec.Code)
	}
	count := decodeBody[map[string]int64](t, rec)
	if count["count"] != 0 {
		t.Errorf("expected count 0 with store down, got %d", count["count"])
	}

	// Explicit queue operations surface the failure
	rec = env.do(http.MethodGet, "/api/followups", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 from list with store down, got %d", rec.Code)
	}
	rec = env.do(http.MethodDelete, "/api/followups/0", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 from dismiss with store down, got %d", rec.Code)
	}
}

func TestAPI_Deploy(t *testing.T) {
	env := newTestEnv(t, true, []string{"echo", "published"})

	rec := env.do(http.MethodPost, "/api/deploy", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	response := decodeBody[deployResponse](t, rec)
	if !response.Success || response.Message != "published" {
		t.Errorf("unexpected deploy response: %+v", response)
	}
}

func TestAPI_Deploy_Failure(t *testing.T) {
	env := newTestEnv(t, true, []string{"sh", "-c", "echo build exploded; exit 1"})

	rec := env.do(http.MethodPost, "/api/deploy", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	response := decodeBody[deployResponse](t, rec)
	if response.Success || !strings.Contains(response.Message, "build exploded") {
		t.Errorf("unexpected deploy response: %+v", response)
	}
}

func TestAPI_BasicAuth(t *testing.T) {
	env := newTestEnv(t, false, nil)

	// Without credentials
	req := httptest.NewRequest(http.MethodGet, "/api/animals", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}

	// With wrong credentials
	req = httptest.NewRequest(http.MethodGet, "/api/animals", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad credentials, got %d", rec.Code)
	}

	// With the configured pair
	if rec := env.do(http.MethodGet, "/api/animals", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", rec.Code)
	}

	// The probe stays open for liveness checks
	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from probe without credentials, got %d", rec.Code)
	}
}
