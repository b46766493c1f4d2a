package streamer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"torrent-streamer/internal/platform/metrics"
)

// DefaultStartBufferBytes is the minimum downloaded prefix before the
// transcoder starts. Large enough for ffmpeg to probe container metadata on
// most files; larger only delays first playback.
const DefaultStartBufferBytes = 3 << 20

// Service orchestrates the session lifecycle: create, track liveness, tear
// down. All shared state lives in the Registry; everything else is owned by
// exactly one session.
type Service struct {
	registry *Registry
	client   DownloadClient
	log      *slog.Logger
	metrics  *metrics.Metrics

	streamRoot     string
	minBufferBytes int64
	pollInterval   time.Duration

	// newTranscoder is swapped out in tests to avoid spawning ffmpeg.
	newTranscoder func(input io.ReadCloser, outDir string) Transcoder
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// StreamRoot is the directory that holds one subdirectory per session.
	StreamRoot string
	// MinBufferBytes is the readiness threshold; DefaultStartBufferBytes
	// if zero.
	MinBufferBytes int64
	// PollInterval is the readiness gate cadence;
	// DefaultReadinessPollInterval if zero.
	PollInterval time.Duration
	// Transcode configures the ffmpeg invocation.
	Transcode TranscodeConfig
}

// NewService returns a Service using the given registry and download client.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewService(registry *Registry, client DownloadClient, cfg ServiceConfig, log *slog.Logger, m *metrics.Metrics) *Service {
	if cfg.MinBufferBytes <= 0 {
		cfg.MinBufferBytes = DefaultStartBufferBytes
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultReadinessPollInterval
	}
	s := &Service{
		registry:       registry,
		client:         client,
		log:            log,
		metrics:        m,
		streamRoot:     cfg.StreamRoot,
		minBufferBytes: cfg.MinBufferBytes,
		pollInterval:   cfg.PollInterval,
	}
	s.newTranscoder = func(input io.ReadCloser, outDir string) Transcoder {
		return NewFFmpegTranscoder(cfg.Transcode, input, outDir)
	}
	return s
}

// CreateResult is what a successful Create hands back to the HTTP layer.
type CreateResult struct {
	SessionID   SessionID
	PlaylistURL string
}

// Create runs a session from locator to active: allocate id and directory,
// start the download, select a file, wait for the start buffer, start the
// transcoder. It returns only once the playlist is about to appear on disk.
//
// Any failure before activation unwinds everything already set up, so no
// half-created session is ever reachable from the registry.
func (s *Service) Create(ctx context.Context, locator string) (CreateResult, error) {
	id := SessionID(uuid.NewString())
	dir := filepath.Join(s.streamRoot, string(id))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CreateResult{}, fmt.Errorf("create session directory: %w", err)
	}

	session := NewSession(id, dir)
	dl, err := s.client.Add(ctx, locator)
	if err != nil {
		_ = os.RemoveAll(dir)
		return CreateResult{}, err
	}
	session.SetDownload(dl)
	session.SetState(StateBuffering)

	// Registered before the buffer wait so the reaper can reclaim a session
	// stuck on a stalled download that nobody is polling.
	s.registry.Put(session)
	if s.metrics != nil {
		s.metrics.IncSessionsCreated()
	}

	file, err := SelectPlayableFile(dl.Files())
	if err != nil {
		s.Teardown(id)
		return CreateResult{}, err
	}
	session.SetFile(file)
	file.Download()

	s.log.Info("session buffering",
		slog.String("session_id", string(id)),
		slog.String("file", file.Name()),
		slog.Int64("length", file.Length()))

	if err := AwaitReadiness(ctx, file, dl, s.minBufferBytes, s.pollInterval); err != nil {
		s.Teardown(id)
		return CreateResult{}, err
	}

	tc := s.newTranscoder(file.NewReader(), dir)
	if err := tc.Start(); err != nil {
		s.Teardown(id)
		return CreateResult{}, fmt.Errorf("start transcoder: %w", err)
	}
	session.SetTranscoder(tc)
	session.SetState(StateActive)

	// Process exit, for any reason, is the authoritative end-of-transcode
	// signal and one of the two teardown triggers.
	go func() {
		err := <-tc.Done()
		if err != nil {
			s.log.Warn("transcoder exited abnormally",
				slog.String("session_id", string(id)),
				slog.String("error", err.Error()))
		} else {
			s.log.Info("transcoder finished", slog.String("session_id", string(id)))
		}
		s.Teardown(id)
	}()

	s.log.Info("session active", slog.String("session_id", string(id)))

	return CreateResult{
		SessionID:   id,
		PlaylistURL: fmt.Sprintf("/streams/%s/%s", id, PlaylistFileName),
	}, nil
}

// Lookup returns the session for id, touching it. Every external access
// counts as liveness, including lookups for files that turn out not to exist.
func (s *Service) Lookup(id SessionID) (*Session, bool) {
	session, ok := s.registry.Get(id)
	if !ok {
		return nil, false
	}
	session.Touch()
	return session, true
}

// Teardown dismantles a session: stop the transcoder, drop the download,
// delete the output directory, forget the id. The registry removal is the
// exactly-once guard, so concurrent triggers (reaper sweep racing a
// transcoder exit) clean up once and later calls are no-ops.
//
// Each cleanup step is isolated: one failing must not stop the others, or a
// partial failure could leak a directory or a running process forever.
func (s *Service) Teardown(id SessionID) {
	session, ok := s.registry.Remove(id)
	if !ok {
		return
	}
	session.SetState(StateTearingDown)
	s.log.Info("tearing down session", slog.String("session_id", string(id)))

	if tc := session.TranscoderHandle(); tc != nil {
		tc.Stop()
	}
	if dl := session.DownloadHandle(); dl != nil {
		dl.Drop()
	}
	if err := os.RemoveAll(session.Dir); err != nil {
		s.log.Warn("failed to remove session directory",
			slog.String("session_id", string(id)),
			slog.String("error", err.Error()))
	}

	session.SetState(StateClosed)
	if s.metrics != nil {
		s.metrics.IncSessionsTornDown()
	}
}

// Shutdown tears down every remaining session. Called on server exit so no
// transcoder outlives the process and no directories are left behind.
func (s *Service) Shutdown() {
	s.registry.ForEach(func(session *Session) {
		s.Teardown(session.ID)
	})
}

// ActiveSessionCount reports how many sessions are registered. Used for the
// metrics gauge.
func (s *Service) ActiveSessionCount() int {
	return s.registry.Len()
}
