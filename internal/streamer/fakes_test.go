package streamer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Shared fakes for the streamer tests. They stand in for the swarm engine and
// the ffmpeg process so lifecycle logic can be exercised hermetically.

type fakeFile struct {
	name      string
	length    int64
	completed atomic.Int64
	downloads atomic.Int32
}

func (f *fakeFile) Name() string          { return f.name }
func (f *fakeFile) Length() int64         { return f.length }
func (f *fakeFile) BytesCompleted() int64 { return f.completed.Load() }
func (f *fakeFile) Download()             { f.downloads.Add(1) }
func (f *fakeFile) NewReader() io.ReadCloser {
	return io.NopCloser(strings.NewReader(""))
}

type fakeDownload struct {
	files    []DownloadFile
	complete atomic.Bool
	drops    atomic.Int32
}

func (d *fakeDownload) Files() []DownloadFile { return d.files }
func (d *fakeDownload) Complete() bool        { return d.complete.Load() }
func (d *fakeDownload) Drop()                 { d.drops.Add(1) }

type fakeClient struct {
	download *fakeDownload
	err      error
}

func (c *fakeClient) Add(ctx context.Context, locator string) (Download, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.download, nil
}

func (c *fakeClient) Close() error { return nil }

type fakeTranscoder struct {
	done     chan error
	starts   atomic.Int32
	stops    atomic.Int32
	exitOnce sync.Once
}

func newFakeTranscoder() *fakeTranscoder {
	return &fakeTranscoder{done: make(chan error, 1)}
}

func (t *fakeTranscoder) Start() error {
	t.starts.Add(1)
	return nil
}

func (t *fakeTranscoder) Done() <-chan error { return t.done }

// Stop simulates a kill: the process exits and Done fires, once.
func (t *fakeTranscoder) Stop() {
	t.stops.Add(1)
	t.exit(nil)
}

func (t *fakeTranscoder) exit(err error) {
	t.exitOnce.Do(func() {
		t.done <- err
		close(t.done)
	})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestService wires a Service over fakes. The returned transcoder is the
// one Create will hand to the session.
func newTestService(t *testing.T, client DownloadClient) (*Service, *Registry, *fakeTranscoder) {
	t.Helper()
	registry := NewRegistry()
	tc := newFakeTranscoder()
	svc := NewService(registry, client, ServiceConfig{
		StreamRoot:     t.TempDir(),
		MinBufferBytes: 1,
		PollInterval:   time.Millisecond,
	}, testLogger(), nil)
	svc.newTranscoder = func(input io.ReadCloser, outDir string) Transcoder {
		input.Close()
		return tc
	}
	return svc, registry, tc
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
