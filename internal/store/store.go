// Package store persists track records in a single sqlite table keyed by
// absolute file path. Every exported operation is atomic on its own; callers
// get no cross-call isolation beyond that, and concurrent batch writers are
// not supported.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrTrackNotFound = errors.New("track not found")

// ExtSlots is the number of generic extension columns on the tracks table.
// Slot 0 (column ext_1) holds the sanitized track-number string by
// convention.
const ExtSlots = 20

// deleteChunkSize stays safely under sqlite's bound-parameter ceiling so a
// prune of an arbitrarily large stale set never builds an unbounded IN list.
const deleteChunkSize = 900

// Track is one persisted record describing a single audio file. Path is the
// identity: absolute, unique, no surrogate id.
type Track struct {
	Path      string  `json:"path"`
	Artist    string  `json:"artist"`
	Title     string  `json:"title"`
	Album     string  `json:"album"`
	Genre     string  `json:"genre"`
	Year      string  `json:"year"`
	Comment   string  `json:"comment"`
	Duration  float64 `json:"duration"`
	PlayCount int64   `json:"playCount"`
	Rating    float64 `json:"rating"`

	// Ext holds the generic extension slots (columns ext_1..ext_20).
	Ext [ExtSlots]string `json:"ext"`
}

// TrackNumber returns the conventional contents of the first extension slot.
func (t Track) TrackNumber() string {
	return t.Ext[0]
}

func (t *Track) SetTrackNumber(value string) {
	t.Ext[0] = value
}

// NormalizeRating clamps to [0, 5] and snaps to the nearest half step, the
// only values a rating column may hold.
func NormalizeRating(rating float64) float64 {
	if rating < 0 {
		return 0
	}
	if rating > 5 {
		return 5
	}
	return math.Round(rating*2) / 2
}

type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) *Store {
	return &Store{db: database}
}

func extColumns() []string {
	columns := make([]string, ExtSlots)
	for i := range columns {
		columns[i] = fmt.Sprintf("ext_%d", i+1)
	}
	return columns
}

func allColumns() []string {
	columns := []string{
		"file_path", "artist", "title", "album", "genre", "year",
		"comment", "duration", "play_count", "rating",
	}
	return append(columns, extColumns()...)
}

// upsertSQL inserts a full record; on conflict it refreshes every tag-derived
// field but leaves play_count and rating alone, so a rescan never clobbers
// what the user accumulated.
func upsertSQL() string {
	columns := allColumns()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	updates := make([]string, 0, len(columns))
	for _, column := range columns {
		if column == "file_path" || column == "play_count" || column == "rating" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", column, column))
	}

	return fmt.Sprintf(
		"INSERT INTO tracks (%s) VALUES (%s) ON CONFLICT(file_path) DO UPDATE SET %s",
		strings.Join(columns, ", "),
		placeholders,
		strings.Join(updates, ", "),
	)
}

func upsertArgs(track Track) []any {
	args := []any{
		track.Path,
		track.Artist,
		track.Title,
		track.Album,
		track.Genre,
		track.Year,
		track.Comment,
		track.Duration,
		track.PlayCount,
		NormalizeRating(track.Rating),
	}
	for _, value := range track.Ext {
		args = append(args, value)
	}
	return args
}

func (s *Store) Upsert(ctx context.Context, track Track) error {
	if strings.TrimSpace(track.Path) == "" {
		return errors.New("track path is required")
	}

	if _, err := s.db.ExecContext(ctx, upsertSQL(), upsertArgs(track)...); err != nil {
		return fmt.Errorf("upsert track %s: %w", track.Path, err)
	}

	return nil
}

// UpsertBatch writes the whole batch inside one transaction with one
// prepared statement, which is what makes 500-record scanner flushes cheap.
func (s *Store) UpsertBatch(ctx context.Context, tracks []Track) error {
	if len(tracks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch upsert tx: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertSQL())
	if err != nil {
		return fmt.Errorf("prepare batch upsert: %w", err)
	}
	defer stmt.Close()

	for _, track := range tracks {
		if strings.TrimSpace(track.Path) == "" {
			return fmt.Errorf("batch contains a track without a path (title %q)", track.Title)
		}
		if _, err := stmt.ExecContext(ctx, upsertArgs(track)...); err != nil {
			return fmt.Errorf("batch upsert track %s: %w", track.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch upsert tx: %w", err)
	}
	tx = nil

	return nil
}

func (s *Store) GetByPath(ctx context.Context, path string) (Track, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM tracks WHERE file_path = ?",
		strings.Join(allColumns(), ", "),
	)

	track, err := scanTrack(s.db.QueryRowContext(ctx, query, path))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Track{}, ErrTrackNotFound
		}
		return Track{}, fmt.Errorf("get track %s: %w", path, err)
	}

	return track, nil
}

// GetAll returns every record ordered by path.
func (s *Store) GetAll(ctx context.Context) ([]Track, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM tracks ORDER BY file_path",
		strings.Join(allColumns(), ", "),
	)
	return s.listTracks(ctx, query)
}

// GetAllForHierarchy returns every record ordered by (genre, artist, album,
// path) so hierarchy construction is a single linear pass.
func (s *Store) GetAllForHierarchy(ctx context.Context) ([]Track, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM tracks ORDER BY genre, artist, album, file_path",
		strings.Join(allColumns(), ", "),
	)
	return s.listTracks(ctx, query)
}

func (s *Store) listTracks(ctx context.Context, query string) ([]Track, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]Track, 0)
	for rows.Next() {
		track, scanErr := scanTrack(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan track row: %w", scanErr)
		}
		tracks = append(tracks, track)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate track rows: %w", rowsErr)
	}

	return tracks, nil
}

// GetAllPaths returns the set of persisted paths; the scanner diffs it
// against the walk result to compute the prune set.
func (s *Store) GetAllPaths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT file_path FROM tracks")
	if err != nil {
		return nil, fmt.Errorf("list track paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var path string
		if scanErr := rows.Scan(&path); scanErr != nil {
			return nil, fmt.Errorf("scan track path row: %w", scanErr)
		}
		paths[path] = struct{}{}
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate track path rows: %w", rowsErr)
	}

	return paths, nil
}

// DeleteByPaths removes the given records, chunked to stay under the
// parameter ceiling, all inside one transaction.
func (s *Store) DeleteByPaths(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	for start := 0; start < len(paths); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(paths) {
			end = len(paths)
		}
		chunk := paths[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		args := make([]any, len(chunk))
		for i, path := range chunk {
			args[i] = path
		}

		query := fmt.Sprintf("DELETE FROM tracks WHERE file_path IN (%s)", placeholders)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete track chunk of %d: %w", len(chunk), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	tx = nil

	return nil
}

// SetRating updates only the rating column, normalized to half steps.
func (s *Store) SetRating(ctx context.Context, path string, rating float64) error {
	result, err := s.db.ExecContext(
		ctx,
		"UPDATE tracks SET rating = ? WHERE file_path = ?",
		NormalizeRating(rating),
		path,
	)
	if err != nil {
		return fmt.Errorf("set rating for %s: %w", path, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rating update count for %s: %w", path, err)
	}
	if affected == 0 {
		return ErrTrackNotFound
	}

	return nil
}

// IncrementPlayCount bumps the monotonic play counter; the scanner never
// touches this column.
func (s *Store) IncrementPlayCount(ctx context.Context, path string) error {
	result, err := s.db.ExecContext(
		ctx,
		"UPDATE tracks SET play_count = play_count + 1 WHERE file_path = ?",
		path,
	)
	if err != nil {
		return fmt.Errorf("increment play count for %s: %w", path, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("read play count update for %s: %w", path, err)
	}
	if affected == 0 {
		return ErrTrackNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(row rowScanner) (Track, error) {
	var track Track
	var artist, title, album, genre, year, comment sql.NullString
	var duration, rating sql.NullFloat64
	var playCount sql.NullInt64
	ext := make([]sql.NullString, ExtSlots)

	dest := []any{
		&track.Path, &artist, &title, &album, &genre, &year,
		&comment, &duration, &playCount, &rating,
	}
	for i := range ext {
		dest = append(dest, &ext[i])
	}

	if err := row.Scan(dest...); err != nil {
		return Track{}, err
	}

	track.Artist = artist.String
	track.Title = title.String
	track.Album = album.String
	track.Genre = genre.String
	track.Year = year.String
	track.Comment = comment.String
	track.Duration = duration.Float64
	track.PlayCount = playCount.Int64
	track.Rating = rating.Float64
	for i := range ext {
		track.Ext[i] = ext[i].String
	}

	return track, nil
}
