package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/snipd/internal/cache"
	"github.com/jmylchreest/snipd/internal/config"
	"github.com/jmylchreest/snipd/internal/database"
	"github.com/jmylchreest/snipd/internal/engine"
	"github.com/jmylchreest/snipd/internal/httpapi"
	"github.com/jmylchreest/snipd/internal/httpapi/handlers"
	"github.com/jmylchreest/snipd/internal/observability"
	"github.com/jmylchreest/snipd/internal/progress"
	"github.com/jmylchreest/snipd/internal/runner"
	"github.com/jmylchreest/snipd/internal/storage"
	"github.com/jmylchreest/snipd/internal/tagger"
	"github.com/jmylchreest/snipd/internal/util"
	"github.com/jmylchreest/snipd/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the snipd server",
	Long: `Start the snipd HTTP server and API.

The server provides:
- REST API for submitting and tracking snippet extractions
- Server-sent progress events per job
- Artifact downloads with cache-backed deduplication
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("data-dir", "./data", "Data directory for artifacts and temp files")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	logger := slog.Default()

	db, err := database.New(cfg.Database, observability.WithComponent(logger, "database"))
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	sandbox, err := storage.NewSandbox(cfg.Storage.ArtifactPath())
	if err != nil {
		return fmt.Errorf("initializing artifact storage: %w", err)
	}

	// Scratch space from previous runs is worthless; start clean.
	tempDir := cfg.Storage.TempPath()
	if err := os.RemoveAll(tempDir); err != nil {
		logger.Warn("cleaning temp directory failed",
			slog.String("path", tempDir),
			slog.String("error", err.Error()),
		)
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}

	store := cache.New(cfg.Cache, db, sandbox, observability.WithComponent(logger, "cache"))
	store.Reconcile(cmd.Context())

	ytdlpPath, err := util.FindBinary("yt-dlp", cfg.Extractor.YtdlpPath, "SNIPD_YTDLP_PATH")
	if err != nil {
		return fmt.Errorf("locating yt-dlp: %w", err)
	}
	ffmpegPath, err := util.FindBinary("ffmpeg", cfg.Extractor.FFmpegPath, "SNIPD_FFMPEG_PATH")
	if err != nil {
		return fmt.Errorf("locating ffmpeg: %w", err)
	}
	logger.Info("resolved external binaries",
		slog.String("yt_dlp", ytdlpPath),
		slog.String("ffmpeg", ffmpegPath),
	)

	run := runner.New(runner.Options{
		YtdlpPath:    ytdlpPath,
		FFmpegPath:   ffmpegPath,
		ProxyURL:     cfg.Extractor.ProxyURL,
		CookiesFile:  cfg.Extractor.CookiesFile,
		Timeout:      cfg.Extractor.ProcessTimeout.Duration(),
		Threads:      cfg.Extractor.FFmpegThreads,
		AudioBitrate: cfg.Extractor.AudioBitrate,
	}, observability.WithComponent(logger, "runner"))

	tag := tagger.NewFFmpegTagger(ffmpegPath, observability.WithComponent(logger, "tagger"))
	publisher := progress.NewPublisher(observability.WithComponent(logger, "progress"))

	eng := engine.New(engine.Config{
		MaxConcurrentJobs:  cfg.Extractor.MaxConcurrentJobs,
		QueueLimit:         cfg.Extractor.QueueLimit,
		RetryDelay:         cfg.Extractor.RetryDelay.Duration(),
		JobRetention:       cfg.Extractor.JobRetention.Duration(),
		MaxSourceDuration:  cfg.Extractor.MaxSourceDuration.Duration(),
		MaxSnippetDuration: cfg.Extractor.MaxSnippetDuration.Duration(),
		ScratchDir:         tempDir,
		SweepCron:          cfg.Cache.SweepCron,
	}, run.Run, run.Probe, store, tag, publisher, db, observability.WithComponent(logger, "engine"))
	eng.Start()
	defer eng.Stop()

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}, observability.WithComponent(logger, "http"))

	extractHandler := handlers.NewExtractHandler(eng)
	extractHandler.Register(server.API())

	jobsHandler := handlers.NewJobsHandler(eng, publisher, logger)
	jobsHandler.Register(server.API())
	jobsHandler.RegisterSSE(server.Router())

	downloadHandler := handlers.NewDownloadHandler(eng, logger)
	downloadHandler.Register(server.Router())

	videoInfoHandler := handlers.NewVideoInfoHandler(run.Probe, logger)
	videoInfoHandler.Register(server.API())

	healthHandler := handlers.NewHealthHandler(eng, store, db, ytdlpPath, ffmpegPath, logger)
	healthHandler.Register(server.API())

	adminHandler := handlers.NewAdminHandler(eng)
	adminHandler.Register(server.API())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("snipd started",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Get().Short()),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	return nil
}

// loadConfig resolves the effective configuration. Flags override only
// when explicitly set, keeping flag > env > config file > default.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("data-dir") {
		cfg.Storage.BaseDir, _ = flags.GetString("data-dir")
	}

	return cfg, nil
}
