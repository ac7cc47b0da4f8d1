// Package tagio is the boundary to on-disk tag data. The core never touches
// byte-level tag layouts; it talks to a Codec, which reads best-effort
// partial data and writes only the fields it is given.
package tagio

import "math"

// Field names accepted by Codec.Write.
const (
	FieldArtist      = "artist"
	FieldTitle       = "title"
	FieldAlbum       = "album"
	FieldGenre       = "genre"
	FieldYear        = "date"
	FieldTrackNumber = "tracknumber"
	FieldComment     = "comment"
)

// Tags is the raw, unsanitized view of a file's standard tag fields.
// Duration is in seconds; 0 means unreadable.
type Tags struct {
	Artist      string
	Title       string
	Album       string
	Genre       string
	Year        string
	TrackNumber string
	Comment     string
	Duration    float64
}

type Codec interface {
	// Read returns best-effort partial data; a non-nil error still may come
	// with whatever could be recovered. Callers treat errors as degradable.
	Read(path string) (Tags, error)

	// Write persists exactly the provided fields, leaving everything else in
	// the file untouched.
	Write(path string, fields map[string]string) error

	// ReadRating maps the file's internal 0-255 rating byte onto 0-5 in half
	// steps. A file without a rating reads as 0.
	ReadRating(path string) (float64, error)

	// WriteRating maps a 0-5 rating back onto the 0-255 scale, creating the
	// rating tag if the file has none.
	WriteRating(path string, rating float64) error
}

// ratingFromByte converts the stored 0-255 scale to 0-5 in 0.5 steps.
func ratingFromByte(raw int) float64 {
	return math.Round(float64(raw)/255*5*2) / 2
}

// byteFromRating converts a 0-5 rating to the stored 0-255 scale. The
// quantization is drift-free at half-step boundaries: writing 3.5 stores 179,
// which reads back as exactly 3.5.
func byteFromRating(rating float64) int {
	if rating < 0 {
		rating = 0
	}
	if rating > 5 {
		rating = 5
	}
	return int(math.Round(rating / 5 * 255))
}
