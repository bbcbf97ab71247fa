package domain

// ImageType identifies which room image a user asked for.
type ImageType string

const (
	ImagePicture ImageType = "pic"
	ImageMap     ImageType = "map"
)

// RoomImages holds references to the optional room images. References are
// paths relative to the public site URL.
type RoomImages struct {
	Picture string `json:"pic,omitempty"`
	Map     string `json:"map,omitempty"`
}

// Room is a single catalog entry. Rooms are immutable after the catalog loads.
type Room struct {
	Name           string      `json:"name"`
	AlternateNames []string    `json:"alternateNames,omitempty"`
	Location       string      `json:"location"`
	Images         *RoomImages `json:"img,omitempty"`
}

// Image returns the reference for the requested image type, if the room has one.
func (r Room) Image(t ImageType) (string, bool) {
	if r.Images == nil {
		return "", false
	}
	switch t {
	case ImagePicture:
		return r.Images.Picture, r.Images.Picture != ""
	case ImageMap:
		return r.Images.Map, r.Images.Map != ""
	}
	return "", false
}
