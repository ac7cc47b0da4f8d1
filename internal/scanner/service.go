// Package scanner walks a music root, extracts tags, and reconciles the
// track store against what is actually on disk. One scan runs at a time;
// progress is throttled and lossy, the final result is delivered whole.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"tonic/internal/fingerprint"
	"tonic/internal/library"
	"tonic/internal/sanitize"
	"tonic/internal/store"
	"tonic/internal/tagio"
)

// batchSize is how many records accumulate before a flush to the store. Large
// enough that transaction overhead amortizes, small enough that a cancelled
// scan loses little work.
const batchSize = 500

// progressInterval throttles progress emission so a fast walk does not flood
// the consumer.
const progressInterval = time.Second

var ErrScanInProgress = errors.New("scan already in progress")

var errFinalize = errors.New("finalize scan result")

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseWalking    Phase = "walking"
	PhaseCommitting Phase = "committing"
	PhasePruning    Phase = "pruning"
	PhaseFinalizing Phase = "finalizing"
	PhaseDone       Phase = "done"
	PhaseCancelled  Phase = "cancelled"
)

// Progress is a lossy, throttled snapshot of a scan in flight. Consumers that
// fall behind miss updates rather than slowing the walk down.
type Progress struct {
	Phase     Phase  `json:"phase"`
	Dir       string `json:"dir"`
	FilesSeen int    `json:"filesSeen"`
}

// Fix records a file whose stored tag value needed sanitizing; the repair
// service can later write the clean value back to the file itself.
type Fix struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

// Result is everything a completed scan produces beyond the store writes it
// already performed.
type Result struct {
	Tree             *FolderNode          `json:"tree"`
	TrackNumberFixes []Fix                `json:"trackNumberFixes"`
	YearFixes        []Fix                `json:"yearFixes"`
	Fingerprint      fingerprint.Snapshot `json:"fingerprint"`
	FilesSeen        int                  `json:"filesSeen"`
	Indexed          int                  `json:"indexed"`
	Pruned           int                  `json:"pruned"`
}

// TrackStore is the slice of the store the scanner needs.
type TrackStore interface {
	GetAllPaths(ctx context.Context) (map[string]struct{}, error)
	UpsertBatch(ctx context.Context, tracks []store.Track) error
	DeleteByPaths(ctx context.Context, paths []string) error
}

type Status struct {
	Running       bool   `json:"running"`
	Phase         Phase  `json:"phase"`
	LastRunAt     string `json:"lastRunAt"`
	LastError     string `json:"lastError"`
	LastFilesSeen int    `json:"lastFilesSeen"`
	LastIndexed   int    `json:"lastIndexed"`
	LastPruned    int    `json:"lastPruned"`
}

type Service struct {
	store TrackStore
	codec tagio.Codec
	clock clockwork.Clock

	batchSize        int
	progressInterval time.Duration

	mu            sync.Mutex
	running       bool
	phase         Phase
	lastRun       time.Time
	lastError     string
	lastFilesSeen int
	lastIndexed   int
	lastPruned    int
}

func NewService(trackStore TrackStore, codec tagio.Codec) *Service {
	return &Service{
		store:            trackStore,
		codec:            codec,
		clock:            clockwork.NewRealClock(),
		batchSize:        batchSize,
		progressInterval: progressInterval,
		phase:            PhaseIdle,
	}
}

// Scan is a handle on a running scan. Progress is lossy; Done delivers at
// most one Result and then closes. A cancelled or failed scan closes Done
// without a value.
type Scan struct {
	Progress <-chan Progress
	Done     <-chan Result

	cancel context.CancelFunc
}

// Cancel requests cooperative cancellation. The scan stops at the next file
// or directory boundary; records batched so far are still flushed, the prune
// phase is skipped.
func (sc *Scan) Cancel() {
	sc.cancel()
}

// Start launches a scan of root on a background goroutine. Only one scan may
// run at a time.
func (s *Service) Start(root string) (*Scan, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve scan root %s: %w", root, err)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrScanInProgress
	}
	s.running = true
	s.phase = PhaseWalking
	s.lastError = ""
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	progressCh := make(chan Progress, 8)
	doneCh := make(chan Result, 1)

	go s.run(ctx, absRoot, progressCh, doneCh)

	return &Scan{Progress: progressCh, Done: doneCh, cancel: cancel}, nil
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:       s.running,
		Phase:         s.phase,
		LastError:     s.lastError,
		LastFilesSeen: s.lastFilesSeen,
		LastIndexed:   s.lastIndexed,
		LastPruned:    s.lastPruned,
	}
	if !s.lastRun.IsZero() {
		status.LastRunAt = s.lastRun.UTC().Format(time.RFC3339)
	}

	return status
}

func (s *Service) setPhase(phase Phase) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}

func (s *Service) run(ctx context.Context, root string, progressCh chan Progress, doneCh chan Result) {
	defer close(doneCh)
	defer close(progressCh)

	result, err := s.performScan(ctx, root, progressCh)

	s.mu.Lock()
	s.running = false
	switch {
	case errors.Is(err, context.Canceled):
		s.phase = PhaseCancelled
	case err != nil:
		s.phase = PhaseIdle
		s.lastError = err.Error()
	default:
		s.phase = PhaseDone
		s.lastRun = s.clock.Now()
		s.lastFilesSeen = result.FilesSeen
		s.lastIndexed = result.Indexed
		s.lastPruned = result.Pruned
	}
	s.mu.Unlock()

	switch {
	case errors.Is(err, context.Canceled):
		log.Info().Str("root", root).Msg("scan cancelled")
	case err != nil:
		log.Error().Err(err).Str("root", root).Msg("scan failed")
	default:
		log.Info().
			Str("root", root).
			Int("files", result.FilesSeen).
			Int("indexed", result.Indexed).
			Int("pruned", result.Pruned).
			Msg("scan complete")
		doneCh <- *result
	}
}

type scanState struct {
	foundPaths map[string]struct{}
	batch      []store.Track
	tree       *FolderNode
	acc        fingerprint.Accumulator

	trackFixes []Fix
	yearFixes  []Fix

	filesSeen int
	indexed   int
	lastEmit  time.Time
}

func (s *Service) performScan(ctx context.Context, root string, progressCh chan Progress) (*Result, error) {
	dbPaths, err := s.store.GetAllPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("load persisted paths: %w", err)
	}

	// Store writes must survive a cancel that lands mid transaction; the safe
	// partial sync guarantee depends on the in-flight batch committing whole.
	storeCtx := context.WithoutCancel(ctx)

	state := &scanState{
		foundPaths: make(map[string]struct{}),
		tree:       newFolderTree(),
	}

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, entryErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entryErr != nil {
			log.Warn().Err(entryErr).Str("path", path).Msg("skipping unreadable entry")
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if entry.IsDir() {
			if library.IsSentinelDir(entry.Name()) {
				return fs.SkipDir
			}
			if info, infoErr := entry.Info(); infoErr == nil {
				state.acc.ObserveDir(info.ModTime())
			}
			s.emitProgress(progressCh, path, state)
			return nil
		}

		if !library.IsAudioFile(entry.Name()) {
			return nil
		}

		return s.processFile(storeCtx, root, path, entry, state, progressCh)
	})

	cancelled := errors.Is(walkErr, context.Canceled)
	if walkErr != nil && !cancelled {
		return nil, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	// Final flush happens even on cancel so everything walked so far lands.
	if len(state.batch) > 0 {
		s.setPhase(PhaseCommitting)
		if err := s.store.UpsertBatch(storeCtx, state.batch); err != nil {
			return nil, fmt.Errorf("flush final batch: %w", err)
		}
		state.batch = nil
	}

	if cancelled {
		return nil, context.Canceled
	}

	stale := stalePaths(dbPaths, state.foundPaths)
	if len(stale) > 0 {
		s.setPhase(PhasePruning)
		if err := s.store.DeleteByPaths(storeCtx, stale); err != nil {
			return nil, fmt.Errorf("prune %d stale tracks: %w", len(stale), err)
		}
	}

	s.setPhase(PhaseFinalizing)
	result := s.finalize(state, len(stale))
	if result == nil {
		return nil, errFinalize
	}

	return result, nil
}

func (s *Service) processFile(storeCtx context.Context, root, path string, entry fs.DirEntry, state *scanState, progressCh chan Progress) error {
	info, infoErr := entry.Info()
	if infoErr != nil {
		log.Warn().Err(infoErr).Str("path", path).Msg("skipping unstattable file")
		return nil
	}

	state.foundPaths[path] = struct{}{}
	state.acc.ObserveFile(info.ModTime())
	state.filesSeen++

	tags, readErr := s.codec.Read(path)
	if readErr != nil {
		// The file still gets a record; the filename stands in for the title.
		log.Warn().Err(readErr).Str("path", path).Msg("tag read failed, using filename fallback")
		tags = tagio.Tags{Title: entry.Name()}
	}

	trackChanged, cleanTrack := sanitize.TrackNumber(tags.TrackNumber)
	if trackChanged {
		state.trackFixes = append(state.trackFixes, Fix{Path: path, Value: cleanTrack})
	}
	yearChanged, cleanYear := sanitize.Year(tags.Year)
	if yearChanged {
		state.yearFixes = append(state.yearFixes, Fix{Path: path, Value: cleanYear})
	}

	track := store.Track{
		Path:     path,
		Artist:   tags.Artist,
		Title:    tags.Title,
		Album:    tags.Album,
		Genre:    tags.Genre,
		Year:     cleanYear,
		Comment:  tags.Comment,
		Duration: tags.Duration,
	}
	track.SetTrackNumber(cleanTrack)

	state.batch = append(state.batch, track)
	state.indexed++

	relDir, relErr := filepath.Rel(root, filepath.Dir(path))
	if relErr != nil {
		relDir = ""
	}
	state.tree.addTrack(relDir, entry.Name())

	if len(state.batch) >= s.batchSize {
		s.setPhase(PhaseCommitting)
		if err := s.store.UpsertBatch(storeCtx, state.batch); err != nil {
			return fmt.Errorf("flush batch of %d: %w", len(state.batch), err)
		}
		state.batch = state.batch[:0]
		s.setPhase(PhaseWalking)
	}

	s.emitProgress(progressCh, filepath.Dir(path), state)

	return nil
}

func (s *Service) emitProgress(ch chan Progress, dir string, state *scanState) {
	now := s.clock.Now()
	if !state.lastEmit.IsZero() && now.Sub(state.lastEmit) < s.progressInterval {
		return
	}
	state.lastEmit = now

	s.mu.Lock()
	phase := s.phase
	s.mu.Unlock()

	select {
	case ch <- Progress{Phase: phase, Dir: dir, FilesSeen: state.filesSeen}:
	default:
	}
}

// finalize assembles the result bundle. Assembly runs behind a recover so a
// panic here is logged and surfaces as a missing result rather than tearing
// the process down with the store already consistent.
func (s *Service) finalize(state *scanState, pruned int) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("scan result assembly panicked")
			result = nil
		}
	}()

	state.tree.prune()

	return &Result{
		Tree:             state.tree,
		TrackNumberFixes: state.trackFixes,
		YearFixes:        state.yearFixes,
		Fingerprint:      state.acc.Snapshot(),
		FilesSeen:        state.filesSeen,
		Indexed:          state.indexed,
		Pruned:           pruned,
	}
}

// stalePaths is the set difference of persisted paths minus found paths,
// sorted for deterministic delete order.
func stalePaths(dbPaths, foundPaths map[string]struct{}) []string {
	stale := make([]string, 0)
	for path := range dbPaths {
		if _, ok := foundPaths[path]; !ok {
			stale = append(stale, path)
		}
	}
	sort.Strings(stale)
	return stale
}
