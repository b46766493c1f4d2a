package streamer

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// SessionID uniquely identifies a streaming session.
type SessionID string

// SessionState tracks where a session is in its lifecycle.
type SessionState string

const (
	// StateInitializing: directory created, download not yet started.
	StateInitializing SessionState = "initializing"
	// StateBuffering: download running, waiting for the start buffer.
	StateBuffering SessionState = "buffering"
	// StateActive: transcoder running, segments being served.
	StateActive SessionState = "active"
	// StateTearingDown: teardown in progress; the session is already
	// unreachable through the registry by this point.
	StateTearingDown SessionState = "tearing-down"
	// StateClosed: teardown finished. Only observable through a handle held
	// before removal.
	StateClosed SessionState = "closed"
)

var (
	// ErrInvalidLocator is returned when a locator cannot be parsed as a
	// magnet link or .torrent reference.
	ErrInvalidLocator = errors.New("invalid content locator")

	// ErrNoPlayableContent is returned when a download contains no files.
	ErrNoPlayableContent = errors.New("download contains no playable content")

	// ErrSessionNotFound is returned when looking up an unknown or already
	// torn-down session.
	ErrSessionNotFound = errors.New("session not found")
)

// DownloadFile is a single file inside a swarm download.
type DownloadFile interface {
	Name() string
	Length() int64
	BytesCompleted() int64
	// Download marks the file for sequential fetching so bytes accumulate
	// from the front, which is what the transcoder needs.
	Download()
	NewReader() io.ReadCloser
}

// Download is a started swarm download for one locator.
type Download interface {
	Files() []DownloadFile
	Complete() bool
	// Drop stops all network activity and releases swarm resources.
	// Safe to call more than once.
	Drop()
}

// DownloadClient starts swarm downloads. Implemented by the anacrolix
// adapter in production and by fakes in tests.
type DownloadClient interface {
	// Add starts downloading the content named by locator and blocks until
	// swarm metadata is known or ctx is cancelled.
	Add(ctx context.Context, locator string) (Download, error)
	Close() error
}

// Session is the central entity: one locator, one download, one transcoding
// process, one output directory.
type Session struct {
	ID  SessionID
	Dir string

	mu         sync.Mutex
	state      SessionState
	lastSeen   time.Time
	download   Download
	file       DownloadFile
	transcoder Transcoder
}

// NewSession returns a Session in the Initializing state with lastSeen set
// to now.
func NewSession(id SessionID, dir string) *Session {
	return &Session{
		ID:       id,
		Dir:      dir,
		state:    StateInitializing,
		lastSeen: time.Now(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves the session to the given state.
func (s *Session) SetState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// LastSeen returns the time of the most recent external access.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Touch advances lastSeen to now. lastSeen never moves backwards, so a
// stale Touch racing a fresher one cannot shorten the session's life.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now := time.Now(); now.After(s.lastSeen) {
		s.lastSeen = now
	}
}

// SetDownload records the session's swarm download.
func (s *Session) SetDownload(d Download) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.download = d
}

// DownloadHandle returns the session's swarm download, or nil before the
// download has started.
func (s *Session) DownloadHandle() Download {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.download
}

// SetFile records the file selected for streaming.
func (s *Session) SetFile(f DownloadFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = f
}

// File returns the selected file, or nil before selection.
func (s *Session) File() DownloadFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// SetTranscoder records the session's transcoding process. Absent until the
// readiness gate has resolved.
func (s *Session) SetTranscoder(t Transcoder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcoder = t
}

// TranscoderHandle returns the session's transcoder, or nil before it started.
func (s *Session) TranscoderHandle() Transcoder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcoder
}
