// Package catalog loads the immutable room catalog. The source is an ordered
// YAML or JSON list of rooms, validated against a JSON schema before use.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/MoonshotLab/carmen/internal/domain"
)

const catalogSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["name", "location"],
		"additionalProperties": false,
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"alternateNames": {"type": "array", "items": {"type": "string", "minLength": 1}},
			"location": {"type": "string", "minLength": 1},
			"images": {"$ref": "#/definitions/images"},
			"img": {"$ref": "#/definitions/images"}
		}
	},
	"definitions": {
		"images": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"picture": {"type": "string"},
				"pic": {"type": "string"},
				"map": {"type": "string"},
				"mapImage": {"type": "string"}
			}
		}
	}
}`

var schema = jsonschema.MustCompileString("catalog.schema.json", catalogSchema)

// Getter reads a named parameter from a remote store.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type imagesRecord struct {
	Picture  string `yaml:"picture" json:"picture"`
	Pic      string `yaml:"pic" json:"pic"`
	Map      string `yaml:"map" json:"map"`
	MapImage string `yaml:"mapImage" json:"mapImage"`
}

func (r *imagesRecord) toDomain() *domain.RoomImages {
	if r == nil {
		return nil
	}
	img := &domain.RoomImages{
		Picture: firstNonEmpty(r.Picture, r.Pic),
		Map:     firstNonEmpty(r.MapImage, r.Map),
	}
	if img.Picture == "" && img.Map == "" {
		return nil
	}
	return img
}

type roomRecord struct {
	Name           string        `yaml:"name" json:"name"`
	AlternateNames []string      `yaml:"alternateNames" json:"alternateNames"`
	Location       string        `yaml:"location" json:"location"`
	Images         *imagesRecord `yaml:"images" json:"images"`
	Img            *imagesRecord `yaml:"img" json:"img"`
}

// Catalog is the ordered, immutable room table.
type Catalog struct {
	rooms  []domain.Room
	byName map[string]int
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %q: %w", path, err)
	}
	return Parse(data)
}

// LoadParameter reads the catalog document from a parameter store.
func LoadParameter(ctx context.Context, g Getter, name string) (*Catalog, error) {
	if g == nil {
		return nil, errors.New("catalog: parameter getter must not be nil")
	}
	raw, err := g.GetParameter(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("catalog: load parameter: %w", err)
	}
	return Parse([]byte(raw))
}

// Parse decodes, validates and indexes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	if err := validate(data); err != nil {
		return nil, err
	}

	var records []roomRecord
	if err := decode(data, &records); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	c := &Catalog{
		rooms:  make([]domain.Room, 0, len(records)),
		byName: make(map[string]int, len(records)),
	}
	for i, rec := range records {
		name := strings.TrimSpace(rec.Name)
		if name == "" {
			return nil, fmt.Errorf("catalog: rooms[%d]: name is blank", i)
		}
		key := strings.ToLower(name)
		if _, dup := c.byName[key]; dup {
			return nil, fmt.Errorf("catalog: rooms[%d]: duplicate room name %q", i, name)
		}
		images := rec.Images
		if images == nil {
			images = rec.Img
		}
		c.byName[key] = len(c.rooms)
		c.rooms = append(c.rooms, domain.Room{
			Name:           name,
			AlternateNames: trimAll(rec.AlternateNames),
			Location:       strings.TrimSpace(rec.Location),
			Images:         images.toDomain(),
		})
	}

	slog.Info("room catalog loaded", "rooms", len(c.rooms))
	return c, nil
}

// decode accepts JSON documents as-is and everything else as YAML.
func decode(data []byte, v any) error {
	if isJSON(data) {
		return json.Unmarshal(data, v)
	}
	return yaml.Unmarshal(data, v)
}

func isJSON(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{')
}

func validate(data []byte) error {
	var doc any
	if err := decode(data, &doc); err != nil {
		return fmt.Errorf("catalog: decode: %w", err)
	}
	if !isJSON(data) {
		// Round-trip YAML values through JSON so the validator sees JSON types.
		buf, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("catalog: convert: %w", err)
		}
		if err := json.Unmarshal(buf, &doc); err != nil {
			return fmt.Errorf("catalog: convert: %w", err)
		}
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("catalog: invalid: %w", err)
	}
	return nil
}

// Rooms returns the rooms in catalog order.
func (c *Catalog) Rooms() []domain.Room {
	return append([]domain.Room(nil), c.rooms...)
}

// Len returns the number of rooms.
func (c *Catalog) Len() int {
	return len(c.rooms)
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
