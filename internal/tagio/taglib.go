package tagio

import (
	"fmt"
	"strconv"
	"strings"

	"go.senan.xyz/taglib"
)

// ratingTag is the property the 0-255 rating byte is stored under.
const ratingTag = "RATING"

// TagLibCodec implements Codec on top of taglib, which handles the
// format-specific byte layouts for every container the library holds.
type TagLibCodec struct{}

func NewTagLibCodec() *TagLibCodec {
	return &TagLibCodec{}
}

func (c *TagLibCodec) Read(path string) (Tags, error) {
	rawTags, err := taglib.ReadTags(path)
	if err != nil {
		return Tags{}, fmt.Errorf("read tags for %s: %w", path, err)
	}

	tags := Tags{
		Artist:      firstTagValue(rawTags, taglib.Artist),
		Title:       firstTagValue(rawTags, taglib.Title),
		Album:       firstTagValue(rawTags, taglib.Album),
		Genre:       firstTagValue(rawTags, taglib.Genre),
		Year:        firstTagValue(rawTags, taglib.Date, "YEAR"),
		TrackNumber: firstTagValue(rawTags, taglib.TrackNumber),
		Comment:     firstTagValue(rawTags, taglib.Comment),
	}

	properties, propErr := taglib.ReadProperties(path)
	if propErr == nil && properties.Length > 0 {
		tags.Duration = properties.Length.Seconds()
	}

	return tags, nil
}

func (c *TagLibCodec) Write(path string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	tags := make(map[string][]string, len(fields))
	for field, value := range fields {
		key, ok := taglibKey(field)
		if !ok {
			return fmt.Errorf("unknown tag field %q for %s", field, path)
		}
		tags[key] = []string{value}
	}

	if err := taglib.WriteTags(path, tags, 0); err != nil {
		return fmt.Errorf("write tags for %s: %w", path, err)
	}

	return nil
}

func (c *TagLibCodec) ReadRating(path string) (float64, error) {
	rawTags, err := taglib.ReadTags(path)
	if err != nil {
		return 0, fmt.Errorf("read rating for %s: %w", path, err)
	}

	value := firstTagValue(rawTags, ratingTag)
	if value == "" {
		return 0, nil
	}

	raw, parseErr := strconv.Atoi(value)
	if parseErr != nil || raw < 0 {
		return 0, nil
	}
	if raw > 255 {
		raw = 255
	}

	return ratingFromByte(raw), nil
}

func (c *TagLibCodec) WriteRating(path string, rating float64) error {
	raw := byteFromRating(rating)

	// WriteTags creates the tag when the file has none.
	if err := taglib.WriteTags(path, map[string][]string{
		ratingTag: {strconv.Itoa(raw)},
	}, 0); err != nil {
		return fmt.Errorf("write rating for %s: %w", path, err)
	}

	return nil
}

func taglibKey(field string) (string, bool) {
	switch field {
	case FieldArtist:
		return taglib.Artist, true
	case FieldTitle:
		return taglib.Title, true
	case FieldAlbum:
		return taglib.Album, true
	case FieldGenre:
		return taglib.Genre, true
	case FieldYear:
		return taglib.Date, true
	case FieldTrackNumber:
		return taglib.TrackNumber, true
	case FieldComment:
		return taglib.Comment, true
	default:
		return "", false
	}
}

func firstTagValue(tags map[string][]string, keys ...string) string {
	for _, key := range keys {
		values, ok := tags[key]
		if !ok {
			continue
		}
		for _, value := range values {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}

	return ""
}
