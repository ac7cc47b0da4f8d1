package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"tonic/internal/config"
	"tonic/internal/db"
	"tonic/internal/fingerprint"
	"tonic/internal/library"
	"tonic/internal/repair"
	"tonic/internal/scanner"
	"tonic/internal/store"
	"tonic/internal/tagio"
	"tonic/internal/watcher"
)

func main() {
	root := flag.String("root", "", "music root to scan (defaults to the saved root)")
	force := flag.Bool("force", false, "rescan even when the library fingerprint is unchanged")
	fixTrackNumbers := flag.Bool("fix-tracknumbers", false, "write sanitized track numbers back to the files")
	fixYears := flag.Bool("fix-years", false, "write sanitized years back to the files")
	watch := flag.Bool("watch", false, "keep running and rescan when the music root changes")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := run(*root, *force, *fixTrackNumbers, *fixYears, *watch); err != nil {
		log.Fatal().Err(err).Msg("tonic failed")
	}
}

func run(root string, force, fixTrackNumbers, fixYears, watch bool) error {
	paths, err := config.ResolvePaths("tonic")
	if err != nil {
		return err
	}

	settings := config.LoadSettings(paths.SettingsPath)
	if root == "" {
		root = settings.MusicRoot
	}
	if root == "" {
		return errors.New("no music root: pass -root on the first run")
	}

	database, err := db.Bootstrap(paths.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	trackStore := store.NewStore(database)
	codec := tagio.NewTagLibCodec()
	scanService := scanner.NewService(trackStore, codec)
	repairService := repair.NewService(trackStore, codec)
	builder := library.NewBuilder(trackStore)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := scanOnce(ctx, root, force, fixTrackNumbers, fixYears, paths, &settings, scanService, repairService, builder); err != nil {
		return err
	}

	if !watch {
		return nil
	}

	return watchAndRescan(ctx, root, fixTrackNumbers, fixYears, paths, &settings, scanService, repairService, builder)
}

func scanOnce(
	ctx context.Context,
	root string,
	force, fixTrackNumbers, fixYears bool,
	paths config.Paths,
	settings *config.Settings,
	scanService *scanner.Service,
	repairService *repair.Service,
	builder *library.Builder,
) error {
	if !force && !settings.Fingerprint.IsZero() && root == settings.MusicRoot {
		current, err := fingerprint.Take(ctx, root)
		if err != nil {
			return fmt.Errorf("fingerprint %s: %w", root, err)
		}
		if current.Equal(settings.Fingerprint) {
			log.Info().Str("root", root).Msg("library unchanged, skipping scan")
			return summarize(ctx, builder)
		}
	}

	scan, err := scanService.Start(root)
	if err != nil {
		return err
	}

	scanFinished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			scan.Cancel()
		case <-scanFinished:
		}
	}()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("scanning"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWriter(os.Stderr),
	)
	go func() {
		for progress := range scan.Progress {
			bar.Describe(fmt.Sprintf("scanning %s (%d files)", progress.Dir, progress.FilesSeen))
			_ = bar.Add(1)
		}
	}()

	result, ok := <-scan.Done
	close(scanFinished)
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
	if !ok {
		status := scanService.Status()
		if status.Phase == scanner.PhaseCancelled {
			return context.Canceled
		}
		return fmt.Errorf("scan did not complete: %s", status.LastError)
	}

	if fixTrackNumbers && len(result.TrackNumberFixes) > 0 {
		summary, err := repairService.ApplyTrackNumberFixes(ctx, result.TrackNumberFixes)
		if err != nil {
			return err
		}
		log.Info().Int("applied", summary.Applied).Int("failed", summary.Failed).Msg("track number fixes")
	} else if len(result.TrackNumberFixes) > 0 {
		log.Info().Int("count", len(result.TrackNumberFixes)).Msg("track numbers need fixing, rerun with -fix-tracknumbers")
	}

	if fixYears && len(result.YearFixes) > 0 {
		summary, err := repairService.ApplyYearFixes(ctx, result.YearFixes)
		if err != nil {
			return err
		}
		log.Info().Int("applied", summary.Applied).Int("failed", summary.Failed).Msg("year fixes")
	} else if len(result.YearFixes) > 0 {
		log.Info().Int("count", len(result.YearFixes)).Msg("years need fixing, rerun with -fix-years")
	}

	settings.MusicRoot = root
	settings.Fingerprint = result.Fingerprint
	if err := config.SaveSettings(paths.SettingsPath, *settings); err != nil {
		return err
	}

	return summarize(ctx, builder)
}

func summarize(ctx context.Context, builder *library.Builder) error {
	hierarchy, err := builder.Build(ctx)
	if err != nil {
		return err
	}

	genres := len(hierarchy)
	artists, albums, tracks := 0, 0, 0
	for _, genre := range hierarchy {
		artists += len(genre.Artists)
		for _, artist := range genre.Artists {
			albums += len(artist.Albums)
			for _, album := range artist.Albums {
				tracks += len(album.Tracks)
			}
		}
	}

	log.Info().
		Int("genres", genres).
		Int("artists", artists).
		Int("albums", albums).
		Int("tracks", tracks).
		Msg("library")

	return nil
}

func watchAndRescan(
	ctx context.Context,
	root string,
	fixTrackNumbers, fixYears bool,
	paths config.Paths,
	settings *config.Settings,
	scanService *scanner.Service,
	repairService *repair.Service,
	builder *library.Builder,
) error {
	rescan := make(chan struct{}, 1)
	w, err := watcher.New(root, func() {
		select {
		case rescan <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}

	go w.Run(ctx)
	log.Info().Str("root", root).Msg("watching for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rescan:
			err := scanOnce(ctx, root, true, fixTrackNumbers, fixYears, paths, settings, scanService, repairService, builder)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, scanner.ErrScanInProgress) {
				log.Error().Err(err).Msg("rescan failed")
			}
		}
	}
}
