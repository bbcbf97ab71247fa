package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const yamlCatalog = `
- name: Uranus
  location: Third floor, east wing.
  images:
    picture: img/uranus.jpg
    mapImage: img/uranus-map.png
- name: HR
  alternateNames: [Human Resources, "  People Ops "]
  location: First floor.
- name: Gym
  location: Basement.
  img:
    map: img/gym-map.png
`

const jsonCatalog = `[
	{"name": "Uranus", "location": "Third floor.", "img": {"pic": "img/uranus.jpg"}},
	{"name": "Mars", "alternateNames": ["Red Room"], "location": "Fourth floor."}
]`

type fakeGetter struct {
	val  string
	err  error
	name string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.name = name
	return f.val, f.err
}

func TestParse_YAML(t *testing.T) {
	c, err := Parse([]byte(yamlCatalog))
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())

	rooms := c.Rooms()
	require.Equal(t, "Uranus", rooms[0].Name)
	require.Equal(t, "HR", rooms[1].Name)
	require.Equal(t, "Gym", rooms[2].Name)

	require.NotNil(t, rooms[0].Images)
	require.Equal(t, "img/uranus.jpg", rooms[0].Images.Picture)
	require.Equal(t, "img/uranus-map.png", rooms[0].Images.Map)
	require.Equal(t, []string{"Human Resources", "People Ops"}, rooms[1].AlternateNames)
	require.Nil(t, rooms[1].Images)
	require.Equal(t, "img/gym-map.png", rooms[2].Images.Map)
	require.Empty(t, rooms[2].Images.Picture)
}

func TestParse_JSON(t *testing.T) {
	c, err := Parse([]byte(jsonCatalog))
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	rooms := c.Rooms()
	require.Equal(t, "Uranus", rooms[0].Name)
	require.Equal(t, "img/uranus.jpg", rooms[0].Images.Picture)
	require.Equal(t, "Mars", rooms[1].Name)
	require.Equal(t, []string{"Red Room"}, rooms[1].AlternateNames)
}

func TestParse_RejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"empty list":       `[]`,
		"missing location": `[{"name": "Uranus"}]`,
		"unknown field":    `[{"name": "Uranus", "location": "x", "floor": 3}]`,
		"wrong type":       "- name: 12\n  location: x\n",
		"not yaml":         "- name: [unterminated\n",
		"duplicate name":   `[{"name": "Uranus", "location": "a"}, {"name": "uranus", "location": "b"}]`,
		"blank name":       `[{"name": "  ", "location": "a"}]`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			require.Contains(t, err.Error(), "catalog:")
		})
	}
}

func TestRooms_ReturnsCopy(t *testing.T) {
	c, err := Parse([]byte(jsonCatalog))
	require.NoError(t, err)
	rooms := c.Rooms()
	rooms[0].Name = "changed"
	require.Equal(t, "Uranus", c.Rooms()[0].Name)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlCatalog), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read")
}

func TestLoadParameter(t *testing.T) {
	g := &fakeGetter{val: jsonCatalog}
	c, err := LoadParameter(context.Background(), g, "/carmen/rooms")
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())
	require.Equal(t, "/carmen/rooms", g.name)

	_, err = LoadParameter(context.Background(), &fakeGetter{err: errors.New("boom")}, "/carmen/rooms")
	require.ErrorContains(t, err, "boom")

	_, err = LoadParameter(context.Background(), nil, "/carmen/rooms")
	require.ErrorContains(t, err, "must not be nil")
}
