// Package repair writes corrected tag values back to the audio files the
// scanner flagged, keeping the store in step with each successful write.
package repair

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tonic/internal/scanner"
	"tonic/internal/store"
	"tonic/internal/tagio"
)

// writerConcurrency bounds parallel file writes; tag rewrites are IO bound
// and a spinning disk gains nothing past a handful of writers.
const writerConcurrency = 4

// Summary reports how a batch repair went. Individual file failures are
// counted and logged, never fatal to the batch.
type Summary struct {
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

type trackUpdater interface {
	GetByPath(ctx context.Context, path string) (store.Track, error)
	Upsert(ctx context.Context, track store.Track) error
	SetRating(ctx context.Context, path string, rating float64) error
}

type Service struct {
	store trackUpdater
	codec tagio.Codec
}

func NewService(trackStore trackUpdater, codec tagio.Codec) *Service {
	return &Service{store: trackStore, codec: codec}
}

// ApplyTrackNumberFixes writes each sanitized track number into its file and
// mirrors the value into the store.
func (s *Service) ApplyTrackNumberFixes(ctx context.Context, fixes []scanner.Fix) (Summary, error) {
	return s.applyFixes(ctx, fixes, tagio.FieldTrackNumber)
}

// ApplyYearFixes writes each sanitized year into its file and mirrors the
// value into the store.
func (s *Service) ApplyYearFixes(ctx context.Context, fixes []scanner.Fix) (Summary, error) {
	return s.applyFixes(ctx, fixes, tagio.FieldYear)
}

func (s *Service) applyFixes(ctx context.Context, fixes []scanner.Fix, field string) (Summary, error) {
	if len(fixes) == 0 {
		return Summary{}, nil
	}

	var applied, failed atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(writerConcurrency)

	for _, fix := range fixes {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			if err := s.applyFix(groupCtx, fix, field); err != nil {
				log.Warn().Err(err).Str("path", fix.Path).Str("field", field).Msg("tag fix failed")
				failed.Add(1)
				return nil
			}

			applied.Add(1)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return Summary{Applied: int(applied.Load()), Failed: int(failed.Load())}, err
	}

	summary := Summary{Applied: int(applied.Load()), Failed: int(failed.Load())}
	log.Info().
		Str("field", field).
		Int("applied", summary.Applied).
		Int("failed", summary.Failed).
		Msg("tag fixes applied")

	return summary, nil
}

func (s *Service) applyFix(ctx context.Context, fix scanner.Fix, field string) error {
	if err := s.codec.Write(fix.Path, map[string]string{field: fix.Value}); err != nil {
		return err
	}

	track, err := s.store.GetByPath(ctx, fix.Path)
	if err != nil {
		return fmt.Errorf("load track for fix: %w", err)
	}

	switch field {
	case tagio.FieldTrackNumber:
		track.SetTrackNumber(fix.Value)
	case tagio.FieldYear:
		track.Year = fix.Value
	default:
		return fmt.Errorf("unsupported fix field %q", field)
	}

	if err := s.store.Upsert(ctx, track); err != nil {
		return fmt.Errorf("persist fix: %w", err)
	}

	return nil
}

// SaveTags writes user-edited tag fields to the file first, then refreshes
// the stored record. A failed file write leaves the store untouched.
func (s *Service) SaveTags(ctx context.Context, path string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	if err := s.codec.Write(path, fields); err != nil {
		return fmt.Errorf("write tags: %w", err)
	}

	track, err := s.store.GetByPath(ctx, path)
	if err != nil {
		return fmt.Errorf("load track for tag save: %w", err)
	}

	for field, value := range fields {
		switch field {
		case tagio.FieldArtist:
			track.Artist = value
		case tagio.FieldTitle:
			track.Title = value
		case tagio.FieldAlbum:
			track.Album = value
		case tagio.FieldGenre:
			track.Genre = value
		case tagio.FieldYear:
			track.Year = value
		case tagio.FieldTrackNumber:
			track.SetTrackNumber(value)
		case tagio.FieldComment:
			track.Comment = value
		default:
			return fmt.Errorf("unsupported tag field %q", field)
		}
	}

	if err := s.store.Upsert(ctx, track); err != nil {
		return fmt.Errorf("persist tag save: %w", err)
	}

	return nil
}

// SaveRating writes the rating into the file and the store. The file carries
// it quantized to a byte, the store as the half-step float.
func (s *Service) SaveRating(ctx context.Context, path string, rating float64) error {
	normalized := store.NormalizeRating(rating)

	if err := s.codec.WriteRating(path, normalized); err != nil {
		return fmt.Errorf("write rating: %w", err)
	}

	if err := s.store.SetRating(ctx, path, normalized); err != nil {
		return fmt.Errorf("persist rating: %w", err)
	}

	return nil
}
