package streamer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/anacrolix/torrent"
)

// readaheadBytes keeps the torrent reader fetching ahead of ffmpeg's stdin
// consumption so transcoding does not stutter on piece boundaries.
const readaheadBytes = 8 << 20

// TorrentClient adapts an anacrolix/torrent client to the DownloadClient
// interface. One client is shared by all sessions; each Add produces an
// independently droppable download.
type TorrentClient struct {
	client *torrent.Client
}

// NewTorrentClient creates a torrent client that stores piece data under
// dataDir.
func NewTorrentClient(dataDir string) (*TorrentClient, error) {
	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = dataDir
	cfg.Seed = false

	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}
	return &TorrentClient{client: client}, nil
}

// Add implements DownloadClient.Add. Locators may be magnet URIs or paths to
// local .torrent files. The call blocks until swarm metadata is resolved so
// the caller can immediately enumerate files.
func (c *TorrentClient) Add(ctx context.Context, locator string) (Download, error) {
	var (
		t   *torrent.Torrent
		err error
	)
	switch {
	case strings.HasPrefix(locator, "magnet:"):
		t, err = c.client.AddMagnet(locator)
	case fileExists(locator):
		t, err = c.client.AddTorrentFromFile(locator)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}

	select {
	case <-t.GotInfo():
	case <-ctx.Done():
		t.Drop()
		return nil, ctx.Err()
	}

	return &torrentDownload{t: t}, nil
}

// Close shuts the shared client down, dropping any downloads still attached.
func (c *TorrentClient) Close() error {
	errs := c.client.Close()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// torrentDownload wraps one *torrent.Torrent as a Download.
type torrentDownload struct {
	t        *torrent.Torrent
	dropOnce sync.Once
}

func (d *torrentDownload) Files() []DownloadFile {
	files := d.t.Files()
	out := make([]DownloadFile, 0, len(files))
	for _, f := range files {
		out = append(out, &torrentFile{f: f})
	}
	return out
}

func (d *torrentDownload) Complete() bool {
	return d.t.Info() != nil && d.t.BytesCompleted() >= d.t.Length()
}

func (d *torrentDownload) Drop() {
	d.dropOnce.Do(d.t.Drop)
}

// torrentFile wraps one *torrent.File as a DownloadFile.
type torrentFile struct {
	f *torrent.File
}

func (f *torrentFile) Name() string          { return f.f.DisplayPath() }
func (f *torrentFile) Length() int64         { return f.f.Length() }
func (f *torrentFile) BytesCompleted() int64 { return f.f.BytesCompleted() }

// Download marks the file for fetching and bumps its priority so the leading
// pieces arrive first; the reader's readahead keeps the front of the file hot
// after playback starts.
func (f *torrentFile) Download() {
	f.f.SetPriority(torrent.PiecePriorityNow)
	f.f.Download()
}

func (f *torrentFile) NewReader() io.ReadCloser {
	r := f.f.NewReader()
	r.SetReadahead(readaheadBytes)
	return r
}
