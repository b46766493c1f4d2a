package streamer

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// PlaylistFileName is the manifest the transcoder maintains inside each
// session directory. Its location is part of the HTTP contract: clients poll
// /streams/{id}/playlist.m3u8.
const PlaylistFileName = "playlist.m3u8"

const segmentFilePattern = "segment-%05d.ts"

// Transcoder is one external transcoding process: NotStarted until Start,
// Running until the process exits for any reason.
type Transcoder interface {
	// Start spawns the process. The returned error covers spawn failures
	// only; runtime failures surface on Done.
	Start() error
	// Done reports process exit exactly once, for any exit reason. The
	// channel is closed after the exit error (possibly nil) is delivered.
	Done() <-chan error
	// Stop forcibly terminates the process. Idempotent; a no-op after
	// natural exit.
	Stop()
}

// TranscodeConfig holds the knobs for the ffmpeg invocation.
type TranscodeConfig struct {
	// FFmpegPath is the binary to spawn; defaults to "ffmpeg" on PATH.
	FFmpegPath string
	// SegmentSeconds is the target duration of each HLS segment.
	SegmentSeconds int
	// WindowSize is the number of segments kept in the live playlist;
	// older segments are deleted by ffmpeg itself.
	WindowSize int
}

func (c TranscodeConfig) withDefaults() TranscodeConfig {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.SegmentSeconds <= 0 {
		c.SegmentSeconds = 6
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 10
	}
	return c
}

// CheckFFmpeg verifies the transcoder binary is installed and runnable.
// Called once at startup so a missing binary fails fast instead of on the
// first session.
func CheckFFmpeg(path string) error {
	if path == "" {
		path = "ffmpeg"
	}
	if err := exec.Command(path, "-version").Run(); err != nil {
		return fmt.Errorf("ffmpeg not available at %q: %w", path, err)
	}
	return nil
}

// FFmpegTranscoder runs one ffmpeg process that reads a live byte stream on
// stdin and writes an HLS playlist plus a sliding window of segments into the
// session directory.
type FFmpegTranscoder struct {
	cfg    TranscodeConfig
	input  io.ReadCloser
	outDir string

	cmd      *exec.Cmd
	done     chan error
	stopOnce sync.Once
}

// NewFFmpegTranscoder prepares a transcoder that consumes input and writes
// into outDir. Ownership of input transfers: it is closed when the process
// ends or Stop is called.
func NewFFmpegTranscoder(cfg TranscodeConfig, input io.ReadCloser, outDir string) *FFmpegTranscoder {
	return &FFmpegTranscoder{
		cfg:    cfg.withDefaults(),
		input:  input,
		outDir: outDir,
		done:   make(chan error, 1),
	}
}

// Start implements Transcoder.Start.
func (t *FFmpegTranscoder) Start() error {
	playlist := filepath.Join(t.outDir, PlaylistFileName)
	segments := filepath.Join(t.outDir, segmentFilePattern)

	cmd := exec.Command(t.cfg.FFmpegPath,
		"-hide_banner",
		"-loglevel", "warning",

		// Torrents often lead with broken or distant metadata; probe deep
		// so ffmpeg does not give up on a playable stream.
		"-analyzeduration", "200M",
		"-probesize", "200M",

		"-i", "pipe:0",

		// One video stream, audio if present.
		"-map", "0:v:0",
		"-map", "0:a:0?",

		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",

		// Re-encode audio unconditionally; copied tracks with zero channels
		// break playback.
		"-c:a", "aac",
		"-ac", "2",
		"-ar", "44100",
		"-b:a", "128k",

		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", t.cfg.SegmentSeconds),
		"-hls_list_size", fmt.Sprintf("%d", t.cfg.WindowSize),
		"-hls_flags", "delete_segments+append_list",
		"-hls_segment_filename", segments,
		playlist,
	)
	cmd.Stdin = t.input
	cmd.Stdout = nil
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.input.Close()
		return fmt.Errorf("spawn %s: %w", t.cfg.FFmpegPath, err)
	}
	t.cmd = cmd

	go func() {
		err := cmd.Wait()
		t.input.Close()
		t.done <- err
		close(t.done)
	}()

	return nil
}

// Done implements Transcoder.Done.
func (t *FFmpegTranscoder) Done() <-chan error {
	return t.done
}

// Stop implements Transcoder.Stop. Killing an already-exited process returns
// an error from the OS; that is the natural-exit no-op case and is ignored.
func (t *FFmpegTranscoder) Stop() {
	t.stopOnce.Do(func() {
		t.input.Close()
		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
	})
}
