package library

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"tonic/internal/store"
)

// Unknown is the display bucket for records missing a genre, artist or album.
const Unknown = "Unknown"

// Hierarchy is the transient genre → artist → album → track view, rebuilt
// from scratch on every request and discarded after rendering. Every level
// is key-sorted; tracks within an album are ordered by parsed track number.
type Hierarchy []Genre

type Genre struct {
	Name    string   `json:"name"`
	Artists []Artist `json:"artists"`
}

type Artist struct {
	Name   string  `json:"name"`
	Albums []Album `json:"albums"`
}

type Album struct {
	Title  string        `json:"title"`
	Tracks []store.Track `json:"tracks"`
}

type hierarchyStore interface {
	GetAllForHierarchy(ctx context.Context) ([]store.Track, error)
}

type Builder struct {
	store hierarchyStore
}

func NewBuilder(trackStore hierarchyStore) *Builder {
	return &Builder{store: trackStore}
}

// Build reads the full sorted record list and groups it. Intended to run on
// a background goroutine; the result is delivered whole, never streamed.
func (b *Builder) Build(ctx context.Context) (Hierarchy, error) {
	tracks, err := b.store.GetAllForHierarchy(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tracks for hierarchy: %w", err)
	}

	return BuildHierarchy(tracks), nil
}

// BuildHierarchy groups records by genre, artist and album. Grouping is
// map-based rather than run-based: records whose raw keys differ but display
// the same (empty vs anything trimming to empty) still land in one bucket.
func BuildHierarchy(tracks []store.Track) Hierarchy {
	grouped := make(map[string]map[string]map[string][]store.Track)
	for _, track := range tracks {
		genre := displayKey(track.Genre)
		artist := displayKey(track.Artist)
		album := displayKey(track.Album)

		artists, ok := grouped[genre]
		if !ok {
			artists = make(map[string]map[string][]store.Track)
			grouped[genre] = artists
		}
		albums, ok := artists[artist]
		if !ok {
			albums = make(map[string][]store.Track)
			artists[artist] = albums
		}
		albums[album] = append(albums[album], track)
	}

	hierarchy := make(Hierarchy, 0, len(grouped))
	for _, genreName := range sortedKeys(grouped) {
		genre := Genre{Name: genreName}
		artists := grouped[genreName]

		for _, artistName := range sortedKeys(artists) {
			artist := Artist{Name: artistName}
			albums := artists[artistName]

			for _, albumTitle := range sortedKeys(albums) {
				albumTracks := albums[albumTitle]
				sort.SliceStable(albumTracks, func(i, j int) bool {
					return TrackSortKey(albumTracks[i].TrackNumber()) < TrackSortKey(albumTracks[j].TrackNumber())
				})
				artist.Albums = append(artist.Albums, Album{Title: albumTitle, Tracks: albumTracks})
			}

			genre.Artists = append(genre.Artists, artist)
		}

		hierarchy = append(hierarchy, genre)
	}

	return hierarchy
}

// TrackSortKey parses a stored track-number string for ordering: the part
// before any "/", as an integer. Unparsable values sort as 0, i.e. first.
func TrackSortKey(raw string) int {
	head, _, _ := strings.Cut(raw, "/")
	number, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return 0
	}
	return number
}

func displayKey(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Unknown
	}
	return trimmed
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		left, right := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if left == right {
			return keys[i] < keys[j]
		}
		return left < right
	})
	return keys
}
