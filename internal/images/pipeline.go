// Package images turns uploaded photos into the pair of web assets the
// site serves: a width-bounded full view and a smaller thumbnail, both
// re-encoded as JPEG under the category directory.
package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	// MaxUploadBytes is the per-file payload limit.
	MaxUploadBytes = 10 << 20
	// MaxFilesPerUpload caps how many files one request may carry.
	MaxFilesPerUpload = 10

	// FullMaxWidth bounds the full-size derivative; ThumbMaxWidth the
	// thumbnail. Images narrower than the bound are never enlarged.
	FullMaxWidth  = 1200
	ThumbMaxWidth = 400

	fullQuality  = 82
	thumbQuality = 70

	thumbSuffix = "-thumb"
	outputExt   = ".jpg"

	// PublicPrefix is the URL root under which assets are served.
	PublicPrefix = "/images"
)

var (
	// ErrUnsupportedMedia is returned for payloads that are not one of the
	// accepted raster formats (JPEG, PNG, GIF, WebP).
	ErrUnsupportedMedia = errors.New("unsupported image format")
	// ErrTooLarge is returned when a payload exceeds MaxUploadBytes.
	ErrTooLarge = errors.New("image exceeds size limit")
	// ErrNotFound is returned when the referenced asset does not exist.
	ErrNotFound = errors.New("image not found")
	// ErrInvalidPath is returned for references outside the image root.
	ErrInvalidPath = errors.New("invalid image path")
	// ErrProcessing wraps decode/encode/write failures during ingestion.
	ErrProcessing = errors.New("image processing failed")
)

// AssetPair references the two derivatives produced from one source image.
type AssetPair struct {
	Full  string `json:"full"`
	Thumb string `json:"thumb"`
}

// Upload is one file of an ingestion batch.
type Upload struct {
	Name string
	Data []byte
}

// Pipeline writes derived assets under a category subdirectory of the
// image root and serves their references relative to PublicPrefix.
type Pipeline struct {
	root string
	now  func() time.Time
}

func NewPipeline(root string) *Pipeline {
	return &Pipeline{root: root, now: time.Now}
}

// Sniff decodes the payload header and returns the source format, or
// ErrUnsupportedMedia if it is not in the accepted set.
func Sniff(data []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: unrecognized payload", ErrUnsupportedMedia)
	}
	switch format {
	case "jpeg", "png", "gif", "webp":
		return format, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedMedia, format)
}

// Ingest validates one upload, derives the full-size and thumbnail
// copies, writes both under the category directory, and returns their
// public references.
func (p *Pipeline) Ingest(ctx context.Context, upload Upload, category string) (AssetPair, error) {
	if err := ctx.Err(); err != nil {
		return AssetPair{}, err
	}
	if len(upload.Data) > MaxUploadBytes {
		return AssetPair{}, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, upload.Name, len(upload.Data))
	}
	format, err := Sniff(upload.Data)
	if err != nil {
		return AssetPair{}, err
	}

	source, _, err := image.Decode(bytes.NewReader(upload.Data))
	if err != nil {
		return AssetPair{}, fmt.Errorf("%w: decoding %s: %v", ErrProcessing, upload.Name, err)
	}

	base := fmt.Sprintf("%d-%s", p.now().UnixMilli(), sanitizeBaseName(upload.Name))
	slog.Debug("ingest: processing upload",
		"name", upload.Name,
		"format", format,
		"category", category,
		"base", base,
		"source_width", source.Bounds().Dx())

	dir := filepath.Join(p.root, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return AssetPair{}, fmt.Errorf("%w: creating %s: %v", ErrProcessing, dir, err)
	}

	fullName := base + outputExt
	thumbName := base + thumbSuffix + outputExt
	if err := writeDerivative(filepath.Join(dir, fullName), source, FullMaxWidth, fullQuality); err != nil {
		return AssetPair{}, err
	}
	if err := writeDerivative(filepath.Join(dir, thumbName), source, ThumbMaxWidth, thumbQuality); err != nil {
		// Keep the pair convention intact: never leave a lone member behind.
		_ = os.Remove(filepath.Join(dir, fullName))
		return AssetPair{}, err
	}

	return AssetPair{
		Full:  path.Join(PublicPrefix, category, fullName),
		Thumb: path.Join(PublicPrefix, category, thumbName),
	}, nil
}

// IngestAll processes the batch concurrently, one goroutine per file.
// Any failure fails the whole batch; assets written by the files that did
// succeed are removed again so a failed request leaves nothing behind.
func (p *Pipeline) IngestAll(ctx context.Context, uploads []Upload, category string) ([]AssetPair, error) {
	if len(uploads) == 0 {
		return []AssetPair{}, nil
	}
	if len(uploads) > MaxFilesPerUpload {
		return nil, fmt.Errorf("%w: at most %d files per upload", ErrTooLarge, MaxFilesPerUpload)
	}

	pairs := make([]AssetPair, len(uploads))
	failures := make([]error, len(uploads))

	var wg sync.WaitGroup
	for i := range uploads {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pairs[i], failures[i] = p.Ingest(ctx, uploads[i], category)
		}(i)
	}
	wg.Wait()

	var firstErr error
	for _, err := range failures {
		if err != nil {
			firstErr = err
			break
		}
	}
	if firstErr == nil {
		return pairs, nil
	}

	for i, err := range failures {
		if err == nil {
			if removeErr := p.Remove(pairs[i].Full); removeErr != nil {
				slog.Warn("ingest: failed to clean up asset after batch failure",
					"path", pairs[i].Full, "error", removeErr)
			}
		}
	}
	return nil, firstErr
}

// Remove deletes the referenced asset and then, best effort, its sibling
// derivative inferred from the filename convention. A missing sibling is
// not an error; a missing primary is.
func (p *Pipeline) Remove(publicPath string) error {
	target, err := p.resolve(publicPath)
	if err != nil {
		return err
	}

	if err := os.Remove(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, publicPath)
		}
		return fmt.Errorf("failed to delete %s: %w", publicPath, err)
	}
	slog.Info("asset deleted", "path", publicPath)

	sibling := siblingPath(target)
	if err := os.Remove(sibling); err == nil {
		slog.Info("sibling asset deleted", "path", sibling)
	} else if !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to delete sibling asset", "path", sibling, "error", err)
	}
	return nil
}

// resolve maps a public reference to a filesystem path, rejecting
// anything that does not stay inside the image root.
func (p *Pipeline) resolve(publicPath string) (string, error) {
	rel, found := strings.CutPrefix(publicPath, PublicPrefix+"/")
	if !found || rel == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, publicPath)
	}

	target := filepath.Join(p.root, filepath.FromSlash(path.Clean(rel)))
	rootPrefix := filepath.Clean(p.root) + string(filepath.Separator)
	if !strings.HasPrefix(target, rootPrefix) {
		return "", fmt.Errorf("%w: %q escapes the image root", ErrInvalidPath, publicPath)
	}
	return target, nil
}

// siblingPath swaps the thumbnail suffix in or out of a derivative path.
func siblingPath(assetPath string) string {
	ext := filepath.Ext(assetPath)
	stem := strings.TrimSuffix(assetPath, ext)
	if strings.HasSuffix(stem, thumbSuffix) {
		return strings.TrimSuffix(stem, thumbSuffix) + ext
	}
	return stem + thumbSuffix + ext
}

// sanitizeBaseName derives a filesystem-safe stem from the uploaded
// filename: extension stripped, lowercased, non-alphanumeric runs
// collapsed to single hyphens.
func sanitizeBaseName(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	var builder strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(stem) {
		isAlphanumeric := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlphanumeric {
			pendingHyphen = builder.Len() > 0
			continue
		}
		if pendingHyphen {
			builder.WriteByte('-')
			pendingHyphen = false
		}
		builder.WriteRune(r)
	}
	if builder.Len() == 0 {
		return "image"
	}
	return builder.String()
}

func writeDerivative(target string, source image.Image, maxWidth, quality int) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, shrinkToWidth(source, maxWidth), &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("%w: encoding %s: %v", ErrProcessing, target, err)
	}
	if err := os.WriteFile(target, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrProcessing, target, err)
	}
	return nil
}
