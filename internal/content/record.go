package content

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Categories are the fixed set of animal collections. Each category maps
// to one subdirectory under the content root.
var Categories = []string{"chickens", "goats"}

// ValidCategory reports whether name is one of the known categories.
func ValidCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

// Availability states a record can be in.
const (
	AvailabilityAvailable   = "available"
	AvailabilityLimited     = "limited"
	AvailabilityUnavailable = "unavailable"
)

func validAvailability(value string) bool {
	switch value {
	case AvailabilityAvailable, AvailabilityLimited, AvailabilityUnavailable:
		return true
	}
	return false
}

// ImageRef points at one uploaded image. Older records store a bare URL
// string; records written by the upload pipeline store a full/thumbnail
// pair. Both forms round-trip through YAML and JSON unchanged.
type ImageRef struct {
	Full  string
	Thumb string
}

type imageRefPair struct {
	Full  string `yaml:"full" json:"full"`
	Thumb string `yaml:"thumb" json:"thumb"`
}

// UnmarshalYAML accepts either a scalar URL or a full/thumb mapping.
func (r *ImageRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		r.Full = value.Value
		r.Thumb = ""
		return nil
	}
	var pair imageRefPair
	if err := value.Decode(&pair); err != nil {
		return fmt.Errorf("failed to decode image reference: %w", err)
	}
	r.Full = pair.Full
	r.Thumb = pair.Thumb
	return nil
}

// MarshalYAML writes legacy single-URL references back as scalars so that
// hand-written records are not rewritten into the pair form.
func (r ImageRef) MarshalYAML() (interface{}, error) {
	if r.Thumb == "" {
		return r.Full, nil
	}
	return imageRefPair{Full: r.Full, Thumb: r.Thumb}, nil
}

func (r *ImageRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var url string
		if err := json.Unmarshal(data, &url); err != nil {
			return err
		}
		r.Full = url
		r.Thumb = ""
		return nil
	}
	var pair imageRefPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("failed to decode image reference: %w", err)
	}
	r.Full = pair.Full
	r.Thumb = pair.Thumb
	return nil
}

func (r ImageRef) MarshalJSON() ([]byte, error) {
	if r.Thumb == "" {
		return json.Marshal(r.Full)
	}
	return json.Marshal(imageRefPair{Full: r.Full, Thumb: r.Thumb})
}

// Record is one animal listing. Category and ID come from the file
// location, everything else lives in the front matter.
type Record struct {
	Category     string     `json:"type"`
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Images       []ImageRef `json:"images"`
	Description  string     `json:"description"`
	Availability string     `json:"availability"`
}

// Fields carries caller-supplied record data for Create and Update.
// For Update, zero values mean "keep the previous value"; a non-nil empty
// Images slice clears the image list.
type Fields struct {
	Name         string
	Description  string
	Availability string
	Images       []ImageRef
}
