package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"torrent-streamer/internal/platform/config"
	"torrent-streamer/internal/platform/logger"
	"torrent-streamer/internal/platform/metrics"
	"torrent-streamer/internal/streamer"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	streamRoot := config.GetEnv("STREAM_ROOT", "streams")
	torrentDataDir := config.GetEnv("TORRENT_DATA_DIR", "torrent-data")
	startBuffer := config.GetEnvInt64("START_BUFFER_BYTES", streamer.DefaultStartBufferBytes)
	pollInterval := config.GetEnvDuration("READINESS_POLL_INTERVAL", streamer.DefaultReadinessPollInterval)
	idleTimeout := config.GetEnvDuration("IDLE_TIMEOUT", streamer.DefaultIdleTimeout)
	reapInterval := config.GetEnvDuration("REAPER_INTERVAL", streamer.DefaultReapInterval)
	ffmpegPath := config.GetEnv("FFMPEG_PATH", "ffmpeg")
	segmentSeconds := config.GetEnvInt("HLS_SEGMENT_SECONDS", 6)
	windowSize := config.GetEnvInt("HLS_WINDOW_SIZE", 10)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	if err := streamer.CheckFFmpeg(ffmpegPath); err != nil {
		log.Error("transcoder unavailable", "error", err)
		os.Exit(1)
	}
	for _, dir := range []string{streamRoot, torrentDataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error("cannot create directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	client, err := streamer.NewTorrentClient(torrentDataDir)
	if err != nil {
		log.Error("torrent client init failed", "error", err)
		os.Exit(1)
	}

	registry := streamer.NewRegistry()
	met := metrics.New()
	svc := streamer.NewService(registry, client, streamer.ServiceConfig{
		StreamRoot:     streamRoot,
		MinBufferBytes: startBuffer,
		PollInterval:   pollInterval,
		Transcode: streamer.TranscodeConfig{
			FFmpegPath:     ffmpegPath,
			SegmentSeconds: segmentSeconds,
			WindowSize:     windowSize,
		},
	}, log, met)
	h := streamer.NewHandler(svc, log)

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	reaper := streamer.NewReaper(svc, idleTimeout, reapInterval, log)
	go reaper.Run(reaperCtx)

	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(svc.ActiveSessionCount()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"stream_root", streamRoot,
		"start_buffer_bytes", startBuffer,
		"idle_timeout", idleTimeout.String(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	stopReaper()
	svc.Shutdown()
	if err := client.Close(); err != nil {
		log.Error("torrent client close error", "error", err)
	}

	log.Info("server stopped")
}
