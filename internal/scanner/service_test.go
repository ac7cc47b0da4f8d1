package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"tonic/internal/db"
	"tonic/internal/store"
	"tonic/internal/tagio"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	database, err := db.Bootstrap(filepath.Join(t.TempDir(), "library.db"))
	if err != nil {
		t.Fatalf("bootstrap test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return store.NewStore(database)
}

func writeAudioFile(t *testing.T, root string, parts ...string) string {
	t.Helper()

	path := filepath.Join(append([]string{root}, parts...)...)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}

	return path
}

func waitForResult(t *testing.T, scan *Scan) (Result, bool) {
	t.Helper()

	select {
	case result, ok := <-scan.Done:
		return result, ok
	case <-time.After(10 * time.Second):
		t.Fatal("scan did not finish in time")
		return Result{}, false
	}
}

func TestScanReconcilesStoreAgainstDisk(t *testing.T) {
	t.Parallel()

	trackStore := newTestStore(t)
	root := t.TempDir()

	pathB := writeAudioFile(t, root, "b.mp3")
	pathC := writeAudioFile(t, root, "c.mp3")

	// A is persisted but gone from disk; it must be pruned.
	pathA := filepath.Join(root, "a.mp3")
	if err := trackStore.Upsert(context.Background(), store.Track{Path: pathA, Title: "gone"}); err != nil {
		t.Fatalf("seed stale track: %v", err)
	}

	codec := tagio.NewMemoryCodec()
	codec.SetTags(pathB, tagio.Tags{Artist: "Orbit", Title: "Halley"})
	codec.SetTags(pathC, tagio.Tags{Artist: "Orbit", Title: "Encke"})

	service := NewService(trackStore, codec)
	scan, err := service.Start(root)
	if err != nil {
		t.Fatalf("start scan: %v", err)
	}

	result, ok := waitForResult(t, scan)
	if !ok {
		t.Fatal("scan closed without a result")
	}
	if result.FilesSeen != 2 || result.Indexed != 2 || result.Pruned != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if result.Fingerprint.FileCount != 2 {
		t.Fatalf("fingerprint file count = %d, want 2", result.Fingerprint.FileCount)
	}

	paths, err := trackStore.GetAllPaths(context.Background())
	if err != nil {
		t.Fatalf("list paths: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("store holds %d paths, want 2", len(paths))
	}
	if _, stale := paths[pathA]; stale {
		t.Fatal("stale track survived the prune")
	}
	for _, path := range []string{pathB, pathC} {
		if _, found := paths[path]; !found {
			t.Fatalf("track %s missing from store", path)
		}
	}

	status := service.Status()
	if status.Running || status.Phase != PhaseDone {
		t.Fatalf("unexpected status after scan: %+v", status)
	}
}

func TestScanCollectsSanitizerFixes(t *testing.T) {
	t.Parallel()

	trackStore := newTestStore(t)
	root := t.TempDir()
	path := writeAudioFile(t, root, "album", "track.mp3")

	codec := tagio.NewMemoryCodec()
	codec.SetTags(path, tagio.Tags{
		Title:       "Mir",
		TrackNumber: "07/12",
		Year:        `1999\2000\2001`,
	})

	service := NewService(trackStore, codec)
	scan, err := service.Start(root)
	if err != nil {
		t.Fatalf("start scan: %v", err)
	}

	result, ok := waitForResult(t, scan)
	if !ok {
		t.Fatal("scan closed without a result")
	}

	if len(result.TrackNumberFixes) != 1 || result.TrackNumberFixes[0].Value != "7" {
		t.Fatalf("unexpected track number fixes: %+v", result.TrackNumberFixes)
	}
	if len(result.YearFixes) != 1 || result.YearFixes[0].Value != "1999" {
		t.Fatalf("unexpected year fixes: %+v", result.YearFixes)
	}

	track, err := trackStore.GetByPath(context.Background(), path)
	if err != nil {
		t.Fatalf("load track: %v", err)
	}
	if track.Year != "1999" {
		t.Fatalf("stored year = %q, want sanitized value", track.Year)
	}
	if track.TrackNumber() != "7" {
		t.Fatalf("stored track number = %q, want sanitized value", track.TrackNumber())
	}
}

func TestScanSkipsSentinelDirectories(t *testing.T) {
	t.Parallel()

	trackStore := newTestStore(t)
	root := t.TempDir()

	kept := writeAudioFile(t, root, "albums", "keep.mp3")
	writeAudioFile(t, root, "Parking", "skip.mp3")
	writeAudioFile(t, root, "parking", "nested", "skip.mp3")
	writeAudioFile(t, root, "Library", "skip.mp3")

	// Sentinel matching for "Library" is exact case; lower case is scanned.
	alsoKept := writeAudioFile(t, root, "library", "keep.mp3")

	service := NewService(trackStore, tagio.NewMemoryCodec())
	scan, err := service.Start(root)
	if err != nil {
		t.Fatalf("start scan: %v", err)
	}

	result, ok := waitForResult(t, scan)
	if !ok {
		t.Fatal("scan closed without a result")
	}
	if result.Indexed != 2 {
		t.Fatalf("indexed %d files, want 2", result.Indexed)
	}

	paths, err := trackStore.GetAllPaths(context.Background())
	if err != nil {
		t.Fatalf("list paths: %v", err)
	}
	for _, path := range []string{kept, alsoKept} {
		if _, found := paths[path]; !found {
			t.Fatalf("expected %s in store, got %v", path, paths)
		}
	}
	if len(paths) != 2 {
		t.Fatalf("store holds %d paths, want 2", len(paths))
	}
}

func TestScanIgnoresNonAudioFiles(t *testing.T) {
	t.Parallel()

	trackStore := newTestStore(t)
	root := t.TempDir()

	writeAudioFile(t, root, "cover.jpg")
	writeAudioFile(t, root, "notes.txt")
	kept := writeAudioFile(t, root, "song.mp3")

	service := NewService(trackStore, tagio.NewMemoryCodec())
	scan, err := service.Start(root)
	if err != nil {
		t.Fatalf("start scan: %v", err)
	}

	result, ok := waitForResult(t, scan)
	if !ok {
		t.Fatal("scan closed without a result")
	}
	if result.FilesSeen != 1 {
		t.Fatalf("saw %d files, want 1", result.FilesSeen)
	}

	if _, err := trackStore.GetByPath(context.Background(), kept); err != nil {
		t.Fatalf("expected %s indexed: %v", kept, err)
	}
}

func TestScanTagReadFailureFallsBackToFilename(t *testing.T) {
	t.Parallel()

	trackStore := newTestStore(t)
	root := t.TempDir()
	path := writeAudioFile(t, root, "broken.mp3")

	codec := tagio.NewMemoryCodec()
	codec.FailRead(path, errors.New("corrupt header"))

	service := NewService(trackStore, codec)
	scan, err := service.Start(root)
	if err != nil {
		t.Fatalf("start scan: %v", err)
	}

	result, ok := waitForResult(t, scan)
	if !ok {
		t.Fatal("scan closed without a result")
	}
	if result.Indexed != 1 {
		t.Fatalf("indexed %d files, want 1", result.Indexed)
	}

	track, err := trackStore.GetByPath(context.Background(), path)
	if err != nil {
		t.Fatalf("load track: %v", err)
	}
	if track.Title != "broken.mp3" {
		t.Fatalf("fallback title = %q, want filename", track.Title)
	}
	if track.Artist != "" || track.Album != "" || track.Duration != 0 {
		t.Fatalf("fallback record should have empty tags: %+v", track)
	}
}

func TestScanFlushesInBatches(t *testing.T) {
	t.Parallel()

	trackStore := newTestStore(t)
	root := t.TempDir()

	names := []string{"a.mp3", "b.mp3", "c.mp3", "d.mp3", "e.mp3"}
	for _, name := range names {
		writeAudioFile(t, root, name)
	}

	service := NewService(trackStore, tagio.NewMemoryCodec())
	service.batchSize = 2

	scan, err := service.Start(root)
	if err != nil {
		t.Fatalf("start scan: %v", err)
	}

	result, ok := waitForResult(t, scan)
	if !ok {
		t.Fatal("scan closed without a result")
	}
	if result.Indexed != len(names) {
		t.Fatalf("indexed %d files, want %d", result.Indexed, len(names))
	}

	paths, err := trackStore.GetAllPaths(context.Background())
	if err != nil {
		t.Fatalf("list paths: %v", err)
	}
	if len(paths) != len(names) {
		t.Fatalf("store holds %d paths, want %d", len(paths), len(names))
	}
}

func TestScanCancelFlushesBatchAndSkipsPrune(t *testing.T) {
	t.Parallel()

	trackStore := newTestStore(t)
	root := t.TempDir()

	first := writeAudioFile(t, root, "a.mp3")
	writeAudioFile(t, root, "b.mp3")

	// Persisted but gone from disk; a completed scan would prune it.
	stale := filepath.Join(root, "zz-stale.mp3")
	if err := trackStore.Upsert(context.Background(), store.Track{Path: stale, Title: "gone"}); err != nil {
		t.Fatalf("seed stale track: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	codec := tagio.NewMemoryCodec()
	firstRead := true
	codec.ReadHook = func(string) {
		if firstRead {
			firstRead = false
			close(started)
			<-release
		}
	}

	service := NewService(trackStore, codec)
	scan, err := service.Start(root)
	if err != nil {
		t.Fatalf("start scan: %v", err)
	}

	<-started
	scan.Cancel()
	close(release)

	if _, ok := waitForResult(t, scan); ok {
		t.Fatal("cancelled scan must not deliver a result")
	}

	paths, err := trackStore.GetAllPaths(context.Background())
	if err != nil {
		t.Fatalf("list paths: %v", err)
	}
	if _, found := paths[first]; !found {
		t.Fatal("batched record was not flushed on cancel")
	}
	if _, found := paths[stale]; !found {
		t.Fatal("cancelled scan must not prune")
	}

	status := service.Status()
	if status.Running || status.Phase != PhaseCancelled {
		t.Fatalf("unexpected status after cancel: %+v", status)
	}
}

func TestStartRejectsConcurrentScan(t *testing.T) {
	t.Parallel()

	trackStore := newTestStore(t)
	root := t.TempDir()
	writeAudioFile(t, root, "a.mp3")

	started := make(chan struct{})
	release := make(chan struct{})
	codec := tagio.NewMemoryCodec()
	firstRead := true
	codec.ReadHook = func(string) {
		if firstRead {
			firstRead = false
			close(started)
			<-release
		}
	}

	service := NewService(trackStore, codec)
	scan, err := service.Start(root)
	if err != nil {
		t.Fatalf("start scan: %v", err)
	}

	<-started
	if _, err := service.Start(root); !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("second start: got %v, want ErrScanInProgress", err)
	}
	close(release)

	waitForResult(t, scan)

	// Once the first scan drains, a new one may start.
	rescan, err := service.Start(root)
	if err != nil {
		t.Fatalf("restart scan: %v", err)
	}
	waitForResult(t, rescan)
}

func TestScanProgressIsThrottled(t *testing.T) {
	t.Parallel()

	trackStore := newTestStore(t)
	root := t.TempDir()
	for _, name := range []string{"a.mp3", "b.mp3", "c.mp3", "d.mp3"} {
		writeAudioFile(t, root, name)
	}

	service := NewService(trackStore, tagio.NewMemoryCodec())
	// A frozen clock means every emission after the first lands inside the
	// throttle window.
	service.clock = clockwork.NewFakeClock()

	scan, err := service.Start(root)
	if err != nil {
		t.Fatalf("start scan: %v", err)
	}
	waitForResult(t, scan)

	emitted := 0
	for range scan.Progress {
		emitted++
	}
	if emitted != 1 {
		t.Fatalf("got %d progress events, want 1", emitted)
	}
}

func TestScanBuildsFolderTree(t *testing.T) {
	t.Parallel()

	trackStore := newTestStore(t)
	root := t.TempDir()

	writeAudioFile(t, root, "rock", "album1", "one.mp3")
	writeAudioFile(t, root, "rock", "album1", "two.mp3")
	writeAudioFile(t, root, "jazz", "solo.mp3")
	if err := os.MkdirAll(filepath.Join(root, "empty", "deeper"), 0o755); err != nil {
		t.Fatalf("mkdir empty branch: %v", err)
	}

	service := NewService(trackStore, tagio.NewMemoryCodec())
	scan, err := service.Start(root)
	if err != nil {
		t.Fatalf("start scan: %v", err)
	}

	result, ok := waitForResult(t, scan)
	if !ok {
		t.Fatal("scan closed without a result")
	}

	tree := result.Tree
	if tree == nil {
		t.Fatal("result carries no folder tree")
	}
	if _, exists := tree.Children["empty"]; exists {
		t.Fatal("empty branch survived the tree prune")
	}

	rock, ok := tree.Children["rock"]
	if !ok {
		t.Fatalf("missing rock node: %+v", tree.Children)
	}
	album, ok := rock.Children["album1"]
	if !ok || len(album.Tracks) != 2 {
		t.Fatalf("unexpected album node: %+v", rock.Children)
	}

	jazz, ok := tree.Children["jazz"]
	if !ok || len(jazz.Tracks) != 1 || jazz.Tracks[0] != "solo.mp3" {
		t.Fatalf("unexpected jazz node: %+v", tree.Children)
	}
}
