package tagio

import "testing"

func TestRatingRoundTripAtEveryHalfStep(t *testing.T) {
	t.Parallel()

	// The 0-255 quantization must not drift at half-step boundaries.
	for step := 0; step <= 10; step++ {
		rating := float64(step) / 2

		raw := byteFromRating(rating)
		if raw < 0 || raw > 255 {
			t.Fatalf("byteFromRating(%v) = %d, out of byte range", rating, raw)
		}

		back := ratingFromByte(raw)
		if back != rating {
			t.Fatalf("rating %v stored as %d read back as %v", rating, raw, back)
		}
	}
}

func TestByteFromRatingClamps(t *testing.T) {
	t.Parallel()

	if got := byteFromRating(-1); got != 0 {
		t.Fatalf("byteFromRating(-1) = %d, want 0", got)
	}
	if got := byteFromRating(7.5); got != 255 {
		t.Fatalf("byteFromRating(7.5) = %d, want 255", got)
	}
}

func TestMemoryCodecRatingRoundTrip(t *testing.T) {
	t.Parallel()

	codec := NewMemoryCodec()
	if err := codec.WriteRating("/music/a.mp3", 3.5); err != nil {
		t.Fatalf("write rating: %v", err)
	}

	rating, err := codec.ReadRating("/music/a.mp3")
	if err != nil {
		t.Fatalf("read rating: %v", err)
	}
	if rating != 3.5 {
		t.Fatalf("rating round trip: got %v, want 3.5", rating)
	}
}

func TestMemoryCodecWriteLeavesOtherFieldsUntouched(t *testing.T) {
	t.Parallel()

	codec := NewMemoryCodec()
	codec.SetTags("/music/a.mp3", Tags{Artist: "Orbit", Title: "Halley"})

	if err := codec.Write("/music/a.mp3", map[string]string{FieldTrackNumber: "7"}); err != nil {
		t.Fatalf("write tags: %v", err)
	}

	tags := codec.TagsFor("/music/a.mp3")
	if tags.Artist != "Orbit" || tags.Title != "Halley" || tags.TrackNumber != "7" {
		t.Fatalf("unexpected tags after partial write: %+v", tags)
	}
}
