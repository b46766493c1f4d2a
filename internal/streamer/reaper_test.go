package streamer

import (
	"context"
	"testing"
	"time"
)

func setLastSeen(s *Session, at time.Time) {
	s.mu.Lock()
	s.lastSeen = at
	s.mu.Unlock()
}

func TestReaper_Sweep(t *testing.T) {
	dl := readyDownload()
	svc, registry, _ := newTestService(t, &fakeClient{download: dl})
	reaper := NewReaper(svc, time.Minute, time.Second, testLogger())

	idle, err := svc.Create(context.Background(), "magnet:?xt=urn:btih:idle")
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := svc.Create(context.Background(), "magnet:?xt=urn:btih:fresh")
	if err != nil {
		t.Fatal(err)
	}

	idleSession, _ := registry.Get(idle.SessionID)
	setLastSeen(idleSession, time.Now().Add(-2*time.Minute))

	reaper.Sweep()

	if _, ok := registry.Get(idle.SessionID); ok {
		t.Error("idle session survived the sweep")
	}
	if _, ok := registry.Get(fresh.SessionID); !ok {
		t.Error("fresh session was reaped")
	}
}

func TestReaper_Sweep_touchedSessionSurvives(t *testing.T) {
	svc, registry, _ := newTestService(t, &fakeClient{download: readyDownload()})
	reaper := NewReaper(svc, time.Minute, time.Second, testLogger())

	result, err := svc.Create(context.Background(), "magnet:?xt=urn:btih:abc")
	if err != nil {
		t.Fatal(err)
	}

	session, _ := registry.Get(result.SessionID)
	setLastSeen(session, time.Now().Add(-2*time.Minute))
	registry.Touch(result.SessionID)

	reaper.Sweep()

	if _, ok := registry.Get(result.SessionID); !ok {
		t.Error("recently touched session was reaped")
	}
}

func TestReaper_Run_stopsOnCancel(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeClient{download: readyDownload()})
	reaper := NewReaper(svc, time.Minute, time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after cancel")
	}
}
