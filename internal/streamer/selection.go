package streamer

import (
	"path/filepath"
	"strings"
)

// mediaExtensions are the container formats worth streaming. Multi-file
// torrents commonly bundle samples, subtitles, and .nfo metadata next to the
// main media file, so extension matching runs before the size fallback.
var mediaExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".webm": true,
	".ts":   true,
}

// SelectPlayableFile picks the file to stream: the largest file with a known
// media-container extension, or the largest file overall if none match. Ties
// keep the first-encountered file. Returns ErrNoPlayableContent when the
// download holds zero files.
func SelectPlayableFile(files []DownloadFile) (DownloadFile, error) {
	if len(files) == 0 {
		return nil, ErrNoPlayableContent
	}

	var media, largest DownloadFile
	for _, f := range files {
		if largest == nil || f.Length() > largest.Length() {
			largest = f
		}
		ext := strings.ToLower(filepath.Ext(f.Name()))
		if !mediaExtensions[ext] {
			continue
		}
		if media == nil || f.Length() > media.Length() {
			media = f
		}
	}

	if media != nil {
		return media, nil
	}
	return largest, nil
}
