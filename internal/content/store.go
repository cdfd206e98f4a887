package content

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const recordExt = ".md"

var (
	// ErrNotFound is returned when no record exists for a category/id pair.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when creating a record whose slug is taken.
	ErrConflict = errors.New("record already exists")
	// ErrInvalidInput is returned when required fields are missing or invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// Store persists one markdown file per record under a per-category
// subdirectory of the content root. The file body is unused; all record
// data lives in a YAML front-matter block.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// List returns all records of a category. A category directory that does
// not exist yet yields an empty listing, not an error.
func (s *Store) List(category string) ([]Record, error) {
	dir := filepath.Join(s.root, category)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read category directory %s: %w", dir, err)
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExt) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), recordExt)
		record, err := s.Get(category, id)
		if err != nil {
			slog.Warn("skipping unreadable record", "category", category, "id", id, "error", err)
			continue
		}
		records = append(records, *record)
	}
	return records, nil
}

// Get reads a single record.
func (s *Store) Get(category, id string) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(category, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s/%s: %w", category, id, err)
	}

	matter, err := parseFrontMatter(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse record %s/%s: %w", category, id, err)
	}
	return &Record{
		Category:     category,
		ID:           id,
		Name:         matter.Name,
		Images:       matter.Images,
		Description:  matter.Description,
		Availability: matter.Availability,
	}, nil
}

// Create slugifies the name into the record id, rejects duplicates, and
// persists the new record. Images default to an empty list.
func (s *Store) Create(category string, fields Fields) (*Record, error) {
	if err := validateFields(fields); err != nil {
		return nil, err
	}

	id := Slugify(fields.Name)
	if id == "" {
		return nil, fmt.Errorf("%w: name %q yields an empty slug", ErrInvalidInput, fields.Name)
	}
	if _, err := os.Stat(s.recordPath(category, id)); err == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrConflict, category, id)
	}

	record := &Record{
		Category:     category,
		ID:           id,
		Name:         fields.Name,
		Images:       fields.Images,
		Description:  fields.Description,
		Availability: fields.Availability,
	}
	if record.Images == nil {
		record.Images = []ImageRef{}
	}
	if err := s.write(record); err != nil {
		return nil, err
	}
	slog.Info("record created", "category", category, "id", id)
	return record, nil
}

// Update merges the supplied fields over the stored record. Empty strings
// and a nil image slice keep the previous values; id and category never
// change.
func (s *Store) Update(category, id string, fields Fields) (*Record, error) {
	record, err := s.Get(category, id)
	if err != nil {
		return nil, err
	}

	if fields.Name != "" {
		record.Name = fields.Name
	}
	if fields.Description != "" {
		record.Description = fields.Description
	}
	if fields.Availability != "" {
		if !validAvailability(fields.Availability) {
			return nil, fmt.Errorf("%w: unknown availability %q", ErrInvalidInput, fields.Availability)
		}
		record.Availability = fields.Availability
	}
	if fields.Images != nil {
		record.Images = fields.Images
	}

	if err := s.write(record); err != nil {
		return nil, err
	}
	slog.Info("record updated", "category", category, "id", id)
	return record, nil
}

// Delete removes the backing file. Referenced image assets are left in
// place; image cleanup is a separate concern.
func (s *Store) Delete(category, id string) error {
	err := os.Remove(s.recordPath(category, id))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", category, id, err)
	}
	slog.Info("record deleted", "category", category, "id", id)
	return nil
}

func (s *Store) recordPath(category, id string) string {
	return filepath.Join(s.root, category, id+recordExt)
}

func (s *Store) write(record *Record) error {
	dir := filepath.Join(s.root, record.Category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create category directory %s: %w", dir, err)
	}

	data, err := renderFrontMatter(frontMatter{
		Name:         record.Name,
		Images:       record.Images,
		Description:  record.Description,
		Availability: record.Availability,
	})
	if err != nil {
		return fmt.Errorf("failed to render record %s/%s: %w", record.Category, record.ID, err)
	}
	if err := os.WriteFile(s.recordPath(record.Category, record.ID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write record %s/%s: %w", record.Category, record.ID, err)
	}
	return nil
}

func validateFields(fields Fields) error {
	if strings.TrimSpace(fields.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(fields.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	if fields.Availability == "" {
		return fmt.Errorf("%w: availability is required", ErrInvalidInput)
	}
	if !validAvailability(fields.Availability) {
		return fmt.Errorf("%w: unknown availability %q", ErrInvalidInput, fields.Availability)
	}
	return nil
}

// frontMatter is the YAML block persisted at the top of each record file.
// The field set matches the static-site generator's collection schema.
type frontMatter struct {
	Name         string     `yaml:"name"`
	Images       []ImageRef `yaml:"images"`
	Description  string     `yaml:"description"`
	Availability string     `yaml:"availability"`
}

const frontMatterDelimiter = "---"

func renderFrontMatter(matter frontMatter) ([]byte, error) {
	body, err := yaml.Marshal(matter)
	if err != nil {
		return nil, err
	}
	var builder strings.Builder
	builder.WriteString(frontMatterDelimiter + "\n")
	builder.Write(body)
	builder.WriteString(frontMatterDelimiter + "\n")
	return []byte(builder.String()), nil
}

func parseFrontMatter(data []byte) (*frontMatter, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	rest, found := strings.CutPrefix(text, frontMatterDelimiter+"\n")
	if !found {
		return nil, fmt.Errorf("missing opening front matter delimiter")
	}
	block, _, found := strings.Cut(rest, "\n"+frontMatterDelimiter)
	if !found {
		return nil, fmt.Errorf("missing closing front matter delimiter")
	}

	var matter frontMatter
	if err := yaml.Unmarshal([]byte(block+"\n"), &matter); err != nil {
		return nil, fmt.Errorf("invalid front matter: %w", err)
	}
	if matter.Images == nil {
		matter.Images = []ImageRef{}
	}
	return &matter, nil
}
