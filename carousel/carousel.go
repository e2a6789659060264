package carousel

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tarik02/apiproxy/api"
)

var ErrNoSlides = errors.New("carousel has no slides")

// Carousel is the navigation state of one rendered gallery view.
type Carousel struct {
	slides []api.Slide
	index  int
}

func New(slides []api.Slide) (*Carousel, error) {
	if len(slides) == 0 {
		return nil, ErrNoSlides
	}
	return &Carousel{slides: slides}, nil
}

func (c *Carousel) Len() int {
	return len(c.slides)
}

func (c *Carousel) Index() int {
	return c.index
}

func (c *Carousel) Current() api.Slide {
	return c.slides[c.index]
}

func (c *Carousel) Slides() []api.Slide {
	return c.slides
}

func (c *Carousel) Next() int {
	return c.Select(c.index + 1)
}

func (c *Carousel) Prev() int {
	return c.Select(c.index - 1)
}

// Select moves to i modulo the number of slides; negative values count from the end.
func (c *Carousel) Select(i int) int {
	n := len(c.slides)
	c.index = ((i % n) + n) % n
	return c.index
}

// HandleKey applies a keyboard navigation key and reports whether it was handled.
func (c *Carousel) HandleKey(key string) bool {
	switch key {
	case "ArrowRight", "Right", "l":
		c.Next()
	case "ArrowLeft", "Left", "h":
		c.Prev()
	case "Home":
		c.Select(0)
	case "End":
		c.Select(len(c.slides) - 1)
	default:
		return false
	}
	return true
}

// PrevIndex and NextIndex report neighbours without moving.
func (c *Carousel) PrevIndex() int {
	n := len(c.slides)
	return (c.index - 1 + n) % n
}

func (c *Carousel) NextIndex() int {
	return (c.index + 1) % len(c.slides)
}

// Src returns an image source usable in an <img> tag.
func Src(s api.Slide) string {
	img := strings.TrimSpace(s.Image)
	switch {
	case strings.HasPrefix(img, "/9j/"):
		return "data:image/jpeg;base64," + img
	case strings.HasPrefix(img, "data:"),
		strings.HasPrefix(img, "http://"),
		strings.HasPrefix(img, "https://"),
		strings.HasPrefix(img, "/"):
		return img
	default:
		return "data:image/png;base64," + img
	}
}

// ParseSlides accepts the payload shapes returned by chart backends: a list of
// slides, {"charts": [...]}, or an object mapping chart names to images.
func ParseSlides(data json.RawMessage) ([]api.Slide, error) {
	var list []api.Slide
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Charts []api.Slide `json:"charts"`
		Images []api.Slide `json:"images"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && (len(wrapped.Charts) > 0 || len(wrapped.Images) > 0) {
		return append(wrapped.Charts, wrapped.Images...), nil
	}

	var named map[string]string
	if err := json.Unmarshal(data, &named); err != nil {
		return nil, fmt.Errorf("unrecognized chart payload: %w", err)
	}

	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)

	res := make([]api.Slide, 0, len(names))
	for _, name := range names {
		res = append(res, api.Slide{Title: name, Image: named[name]})
	}
	return res, nil
}
