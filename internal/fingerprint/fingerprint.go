// Package fingerprint computes a coarse snapshot of a music tree (audio file
// count plus the newest modification time) used to decide whether a rescan
// is worth starting at all.
//
// The snapshot is intentionally cheap and intentionally coarse: a tag edit
// that preserves the file's mtime is invisible to it. That staleness window
// is a documented property, not a bug; the full scan remains the source of
// truth. Directory mtimes are folded in so that deleting a file (which
// touches only its parent directory) still changes the snapshot.
package fingerprint

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"tonic/internal/library"
)

type Snapshot struct {
	FileCount     int64   `toml:"file_count" json:"fileCount"`
	LatestModTime float64 `toml:"latest_mod_time" json:"latestModTime"`
}

// Equal is exact on both fields. The mtime float is read verbatim from the
// same filesystem call each time, so exact comparison is safe.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.FileCount == other.FileCount && s.LatestModTime == other.LatestModTime
}

func (s Snapshot) IsZero() bool {
	return s.FileCount == 0 && s.LatestModTime == 0
}

// Accumulator builds a Snapshot incrementally; the scanner feeds it during
// its own walk so a completed scan produces the fingerprint for free.
type Accumulator struct {
	fileCount int64
	latest    float64
}

func (a *Accumulator) ObserveFile(modTime time.Time) {
	a.fileCount++
	a.observe(modTime)
}

func (a *Accumulator) ObserveDir(modTime time.Time) {
	a.observe(modTime)
}

func (a *Accumulator) observe(modTime time.Time) {
	seconds := epochSeconds(modTime)
	if seconds > a.latest {
		a.latest = seconds
	}
}

func (a *Accumulator) Snapshot() Snapshot {
	return Snapshot{FileCount: a.fileCount, LatestModTime: a.latest}
}

// Take walks root standalone, applying the same sentinel-directory and audio
// suffix rules as the scanner so both traversals agree on what exists.
// An unreadable root yields an empty snapshot rather than an error.
func Take(ctx context.Context, root string) (Snapshot, error) {
	acc := Accumulator{}

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if walkErr != nil {
			return nil
		}

		if entry.IsDir() {
			if library.IsSentinelDir(entry.Name()) {
				return fs.SkipDir
			}
			if info, infoErr := entry.Info(); infoErr == nil {
				acc.ObserveDir(info.ModTime())
			}
			return nil
		}

		if !library.IsAudioFile(entry.Name()) {
			return nil
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			return nil
		}
		acc.ObserveFile(info.ModTime())

		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	return acc.Snapshot(), nil
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
