package streamer

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func readyDownload() *fakeDownload {
	file := &fakeFile{name: "movie.mkv", length: 900000}
	file.completed.Store(900000)
	return &fakeDownload{files: []DownloadFile{file}}
}

func TestService_Create(t *testing.T) {
	dl := readyDownload()
	svc, registry, tc := newTestService(t, &fakeClient{download: dl})

	result, err := svc.Create(context.Background(), "magnet:?xt=urn:btih:abc")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if result.SessionID == "" {
		t.Error("expected a session id")
	}
	wantSuffix := "/" + PlaylistFileName
	if !strings.HasPrefix(result.PlaylistURL, "/streams/") || !strings.HasSuffix(result.PlaylistURL, wantSuffix) {
		t.Errorf("unexpected playlist url %q", result.PlaylistURL)
	}

	session, ok := registry.Get(result.SessionID)
	if !ok {
		t.Fatal("session not registered")
	}
	if session.State() != StateActive {
		t.Errorf("state = %q, want %q", session.State(), StateActive)
	}
	if _, err := os.Stat(session.Dir); err != nil {
		t.Errorf("session directory missing: %v", err)
	}

	if tc.starts.Load() != 1 {
		t.Errorf("transcoder started %d times, want 1", tc.starts.Load())
	}
	file := dl.files[0].(*fakeFile)
	if file.downloads.Load() == 0 {
		t.Error("selected file was never marked for download")
	}
}

func TestService_Create_invalidLocator(t *testing.T) {
	svc, registry, _ := newTestService(t, &fakeClient{err: ErrInvalidLocator})

	_, err := svc.Create(context.Background(), "not-a-magnet")
	if !errors.Is(err, ErrInvalidLocator) {
		t.Fatalf("expected ErrInvalidLocator, got %v", err)
	}

	// No half-created session may be reachable, and the partially created
	// directory must be gone.
	if registry.Len() != 0 {
		t.Error("session registered despite failed create")
	}
	entries, err := os.ReadDir(svc.streamRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty stream root, found %d entries", len(entries))
	}
}

func TestService_Create_noFiles(t *testing.T) {
	dl := &fakeDownload{}
	svc, registry, _ := newTestService(t, &fakeClient{download: dl})

	_, err := svc.Create(context.Background(), "magnet:?xt=urn:btih:abc")
	if !errors.Is(err, ErrNoPlayableContent) {
		t.Fatalf("expected ErrNoPlayableContent, got %v", err)
	}

	if registry.Len() != 0 {
		t.Error("session registered despite empty download")
	}
	if dl.drops.Load() != 1 {
		t.Errorf("download dropped %d times, want 1", dl.drops.Load())
	}
}

func TestService_Create_cancelledDuringBuffering(t *testing.T) {
	file := &fakeFile{name: "stalled.mkv", length: 900000}
	dl := &fakeDownload{files: []DownloadFile{file}}
	svc, registry, _ := newTestService(t, &fakeClient{download: dl})
	svc.minBufferBytes = 1 << 20

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := svc.Create(ctx, "magnet:?xt=urn:btih:abc")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if registry.Len() != 0 {
		t.Error("session survived cancelled create")
	}
}

func TestService_Teardown_idempotent(t *testing.T) {
	dl := readyDownload()
	svc, registry, tc := newTestService(t, &fakeClient{download: dl})

	result, err := svc.Create(context.Background(), "magnet:?xt=urn:btih:abc")
	if err != nil {
		t.Fatal(err)
	}
	session, _ := registry.Get(result.SessionID)

	svc.Teardown(result.SessionID)
	svc.Teardown(result.SessionID)

	if _, ok := registry.Get(result.SessionID); ok {
		t.Error("session still registered after teardown")
	}
	if _, err := os.Stat(session.Dir); !os.IsNotExist(err) {
		t.Errorf("session directory still present: %v", err)
	}
	if dl.drops.Load() != 1 {
		t.Errorf("download dropped %d times, want 1", dl.drops.Load())
	}
	if tc.stops.Load() != 1 {
		t.Errorf("transcoder stopped %d times, want 1", tc.stops.Load())
	}
}

func TestService_Teardown_concurrentTriggers(t *testing.T) {
	dl := readyDownload()
	svc, _, _ := newTestService(t, &fakeClient{download: dl})

	result, err := svc.Create(context.Background(), "magnet:?xt=urn:btih:abc")
	if err != nil {
		t.Fatal(err)
	}

	// Simulate the reaper and the process-exit callback racing.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Teardown(result.SessionID)
		}()
	}
	wg.Wait()

	if dl.drops.Load() != 1 {
		t.Errorf("download dropped %d times under race, want 1", dl.drops.Load())
	}
}

func TestService_transcoderExitTriggersTeardown(t *testing.T) {
	dl := readyDownload()
	svc, registry, tc := newTestService(t, &fakeClient{download: dl})

	result, err := svc.Create(context.Background(), "magnet:?xt=urn:btih:abc")
	if err != nil {
		t.Fatal(err)
	}
	session, _ := registry.Get(result.SessionID)

	tc.exit(errors.New("exit status 1"))

	waitFor(t, time.Second, func() bool {
		_, ok := registry.Get(result.SessionID)
		return !ok
	})
	waitFor(t, time.Second, func() bool {
		_, err := os.Stat(session.Dir)
		return os.IsNotExist(err)
	})
}

func TestService_Shutdown(t *testing.T) {
	svc, registry, _ := newTestService(t, &fakeClient{download: readyDownload()})

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(context.Background(), "magnet:?xt=urn:btih:abc"); err != nil {
			t.Fatal(err)
		}
	}
	if registry.Len() != 3 {
		t.Fatalf("expected 3 sessions, got %d", registry.Len())
	}

	svc.Shutdown()

	if registry.Len() != 0 {
		t.Errorf("expected no sessions after shutdown, got %d", registry.Len())
	}
}
