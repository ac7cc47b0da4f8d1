package tagio

import (
	"fmt"
	"sync"
)

// MemoryCodec is an in-memory Codec used by tests and by anything that needs
// to stage tag edits without touching files. Reads consult per-path tag maps;
// failures can be injected per path, and ReadHook (when set) runs before
// every read so tests can coordinate with a scan in flight.
type MemoryCodec struct {
	mu       sync.Mutex
	tags     map[string]Tags
	ratings  map[string]float64
	failures map[string]error

	ReadHook func(path string)
}

func NewMemoryCodec() *MemoryCodec {
	return &MemoryCodec{
		tags:     make(map[string]Tags),
		ratings:  make(map[string]float64),
		failures: make(map[string]error),
	}
}

func (c *MemoryCodec) SetTags(path string, tags Tags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags[path] = tags
}

func (c *MemoryCodec) FailRead(path string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[path] = err
}

func (c *MemoryCodec) Read(path string) (Tags, error) {
	if hook := c.ReadHook; hook != nil {
		hook(path)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.failures[path]; ok {
		return Tags{}, err
	}

	return c.tags[path], nil
}

func (c *MemoryCodec) Write(path string, fields map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.failures[path]; ok {
		return err
	}

	tags := c.tags[path]
	for field, value := range fields {
		switch field {
		case FieldArtist:
			tags.Artist = value
		case FieldTitle:
			tags.Title = value
		case FieldAlbum:
			tags.Album = value
		case FieldGenre:
			tags.Genre = value
		case FieldYear:
			tags.Year = value
		case FieldTrackNumber:
			tags.TrackNumber = value
		case FieldComment:
			tags.Comment = value
		default:
			return fmt.Errorf("unknown tag field %q for %s", field, path)
		}
	}
	c.tags[path] = tags

	return nil
}

func (c *MemoryCodec) ReadRating(path string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.failures[path]; ok {
		return 0, err
	}

	return ratingFromByte(byteFromRating(c.ratings[path])), nil
}

func (c *MemoryCodec) WriteRating(path string, rating float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.failures[path]; ok {
		return err
	}

	c.ratings[path] = ratingFromByte(byteFromRating(rating))
	return nil
}

// Tags returns the stored tags for path, for test assertions.
func (c *MemoryCodec) TagsFor(path string) Tags {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tags[path]
}

// RatingFor returns the stored rating for path, for test assertions.
func (c *MemoryCodec) RatingFor(path string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ratings[path]
}
