// Package queue holds the transient playback queue. The queue lives in
// memory only; it is rebuilt by the user each session and never persisted.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tonic/internal/store"
)

const (
	RepeatModeOff = "off"
	RepeatModeAll = "all"
	RepeatModeOne = "one"
)

type advanceMode string

const (
	advanceManual   advanceMode = "manual"
	advanceAutoplay advanceMode = "autoplay"
)

// ChangeListener observes every queue mutation; it runs outside the queue
// lock, so it may call back into the service.
type ChangeListener func(state State)

// State is an immutable snapshot of the queue, safe to hand out.
type State struct {
	Entries      []store.Track `json:"entries"`
	CurrentIndex int           `json:"currentIndex"`
	CurrentTrack *store.Track  `json:"currentTrack,omitempty"`
	RepeatMode   string        `json:"repeatMode"`
	Total        int           `json:"total"`
	UpdatedAt    string        `json:"updatedAt"`
}

// trackLookup is the slice of the store the queue needs to resolve paths.
type trackLookup interface {
	GetByPath(ctx context.Context, path string) (store.Track, error)
}

type Service struct {
	mu           sync.Mutex
	store        trackLookup
	entries      []store.Track
	currentIndex int
	repeatMode   string
	updatedAt    time.Time
	onChange     ChangeListener
}

func NewService(trackStore trackLookup) *Service {
	return &Service{
		store:        trackStore,
		currentIndex: -1,
		repeatMode:   RepeatModeOff,
	}
}

func (s *Service) SetOnChange(listener ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = listener
}

func (s *Service) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

func (s *Service) CurrentTrack() *store.Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentIndex < 0 || s.currentIndex >= len(s.entries) {
		return nil
	}

	track := s.entries[s.currentIndex]
	return &track
}

func (s *Service) SetRepeatMode(mode string) (State, error) {
	normalized, err := normalizeRepeatMode(mode)
	if err != nil {
		return s.GetState(), err
	}

	s.mu.Lock()
	s.repeatMode = normalized
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyChange(state)
	return state, nil
}

// SetQueue replaces the queue with the tracks at the given paths, in order.
// Paths missing from the store are dropped silently; an all-missing set is an
// error so the caller learns nothing was queued.
func (s *Service) SetQueue(ctx context.Context, paths []string, startIndex int) (State, error) {
	tracks, err := s.lookupTracks(ctx, paths)
	if err != nil {
		return State{}, err
	}

	s.mu.Lock()
	s.entries = tracks
	s.currentIndex = normalizeCurrentIndex(len(tracks), startIndex)
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyChange(state)
	return state, nil
}

func (s *Service) Append(ctx context.Context, paths []string) (State, error) {
	tracks, err := s.lookupTracks(ctx, paths)
	if err != nil {
		return State{}, err
	}

	s.mu.Lock()
	s.entries = append(s.entries, tracks...)
	if s.currentIndex < 0 && len(s.entries) > 0 {
		s.currentIndex = 0
	}
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyChange(state)
	return state, nil
}

func (s *Service) Remove(index int) (State, error) {
	s.mu.Lock()
	if index < 0 || index >= len(s.entries) {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, fmt.Errorf("queue index %d out of range", index)
	}

	s.entries = append(s.entries[:index], s.entries[index+1:]...)
	if len(s.entries) == 0 {
		s.currentIndex = -1
	} else if index < s.currentIndex {
		s.currentIndex--
	} else if s.currentIndex >= len(s.entries) {
		s.currentIndex = len(s.entries) - 1
	}

	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyChange(state)
	return state, nil
}

// Move relocates the entry at from to position to, keeping the current track
// pointed at the same entry it was on before the move.
func (s *Service) Move(from, to int) (State, error) {
	s.mu.Lock()
	total := len(s.entries)
	if from < 0 || from >= total || to < 0 || to >= total {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, fmt.Errorf("queue move %d -> %d out of range", from, to)
	}

	if from != to {
		moved := s.entries[from]
		s.entries = append(s.entries[:from], s.entries[from+1:]...)

		rest := append([]store.Track{}, s.entries[to:]...)
		s.entries = append(s.entries[:to], moved)
		s.entries = append(s.entries, rest...)

		switch {
		case s.currentIndex == from:
			s.currentIndex = to
		case from < s.currentIndex && to >= s.currentIndex:
			s.currentIndex--
		case from > s.currentIndex && to <= s.currentIndex:
			s.currentIndex++
		}
	}

	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyChange(state)
	return state, nil
}

func (s *Service) SetCurrentIndex(index int) (State, error) {
	s.mu.Lock()
	if len(s.entries) == 0 {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, errors.New("queue is empty")
	}
	if index < 0 || index >= len(s.entries) {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, fmt.Errorf("queue index %d out of range", index)
	}

	s.currentIndex = index
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyChange(state)
	return state, nil
}

func (s *Service) Clear() State {
	s.mu.Lock()
	s.entries = nil
	s.currentIndex = -1
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyChange(state)
	return state
}

// Next advances on user request. At the end of the queue it wraps only under
// repeat-all; repeat-one does not pin manual navigation.
func (s *Service) Next() (State, bool) {
	return s.advance(advanceManual)
}

// AdvanceAutoplay advances when a track finishes on its own. Repeat-one
// replays the current entry; repeat-off stops at the end of the queue.
func (s *Service) AdvanceAutoplay() (State, bool) {
	return s.advance(advanceAutoplay)
}

func (s *Service) advance(mode advanceMode) (State, bool) {
	s.mu.Lock()
	nextIndex, ok := s.resolveNextIndexLocked(mode)
	if !ok {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, false
	}

	s.currentIndex = nextIndex
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyChange(state)
	return state, true
}

func (s *Service) resolveNextIndexLocked(mode advanceMode) (int, bool) {
	total := len(s.entries)
	if total == 0 {
		return -1, false
	}

	if s.currentIndex < 0 || s.currentIndex >= total {
		return 0, true
	}

	if mode == advanceAutoplay && s.repeatMode == RepeatModeOne {
		return s.currentIndex, true
	}

	if s.currentIndex < total-1 {
		return s.currentIndex + 1, true
	}

	if s.repeatMode == RepeatModeAll {
		return 0, true
	}

	return -1, false
}

func (s *Service) Previous() (State, bool) {
	s.mu.Lock()
	if len(s.entries) == 0 || s.currentIndex == 0 {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, false
	}

	if s.currentIndex < 0 {
		s.currentIndex = 0
	} else {
		s.currentIndex--
	}
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyChange(state)
	return state, true
}

func (s *Service) lookupTracks(ctx context.Context, paths []string) ([]store.Track, error) {
	if len(paths) == 0 {
		return []store.Track{}, nil
	}

	tracks := make([]store.Track, 0, len(paths))
	for _, path := range uniquePaths(paths) {
		track, err := s.store.GetByPath(ctx, path)
		if err != nil {
			if errors.Is(err, store.ErrTrackNotFound) {
				continue
			}
			return nil, fmt.Errorf("resolve queue track %s: %w", path, err)
		}
		tracks = append(tracks, track)
	}

	if len(tracks) == 0 {
		return nil, errors.New("no playable tracks were found")
	}

	return tracks, nil
}

func (s *Service) notifyChange(state State) {
	s.mu.Lock()
	listener := s.onChange
	s.mu.Unlock()

	if listener != nil {
		listener(state)
	}
}

func (s *Service) snapshotLocked() State {
	entries := make([]store.Track, len(s.entries))
	copy(entries, s.entries)

	state := State{
		Entries:      entries,
		CurrentIndex: s.currentIndex,
		RepeatMode:   s.repeatMode,
		Total:        len(entries),
	}

	if s.currentIndex >= 0 && s.currentIndex < len(entries) {
		track := entries[s.currentIndex]
		state.CurrentTrack = &track
	}

	if !s.updatedAt.IsZero() {
		state.UpdatedAt = s.updatedAt.UTC().Format(time.RFC3339)
	}

	return state
}

func (s *Service) touchLocked() {
	s.updatedAt = time.Now().UTC()
}

func normalizeRepeatMode(mode string) (string, error) {
	switch mode {
	case "", RepeatModeOff:
		return RepeatModeOff, nil
	case RepeatModeAll:
		return RepeatModeAll, nil
	case RepeatModeOne:
		return RepeatModeOne, nil
	default:
		return "", fmt.Errorf("invalid repeat mode %q", mode)
	}
}

func normalizeCurrentIndex(total int, startIndex int) int {
	if total == 0 {
		return -1
	}
	if startIndex < 0 || startIndex >= total {
		return 0
	}

	return startIndex
}

func uniquePaths(paths []string) []string {
	unique := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		unique = append(unique, path)
	}

	return unique
}
