// Package chunks reads pre-recorded chunk files and places them on the meeting timeline.
package chunks

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"voxmeet/pkg/logger"
	"voxmeet/pkg/model"

	"go.uber.org/zap"
)

var ErrNoChunks = errors.New("no audio chunks found")

var audioExtensions = map[string]string{
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
}

var trailingNumber = regexp.MustCompile(`(\d+)$`)

// LoadDir returns the audio files in dir as consecutive chunks of the given
// duration. Files are ordered by the trailing number in their name, then by name.
func LoadDir(dir string, duration time.Duration) ([]model.Chunk, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("chunk duration must be positive")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := audioExtensions[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		files = append(files, name)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoChunks, dir)
	}

	sort.SliceStable(files, func(i, j int) bool {
		ni, oki := fileNumber(files[i])
		nj, okj := fileNumber(files[j])
		if oki && okj && ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})

	step := duration.Milliseconds()
	chunks := make([]model.Chunk, 0, len(files))
	for i, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk %s: %w", name, err)
		}

		chunks = append(chunks, model.Chunk{
			ID:        strings.TrimSuffix(name, filepath.Ext(name)),
			Index:     i,
			StartTime: int64(i) * step,
			EndTime:   int64(i+1) * step,
			Audio:     data,
			MimeType:  mimeType(name),
		})
	}

	logger.Info("Chunks loaded",
		zap.String("dir", dir),
		zap.Int("count", len(chunks)),
		zap.Duration("chunk_duration", duration))

	return chunks, nil
}

func fileNumber(name string) (int, bool) {
	m := trailingNumber.FindStringSubmatch(strings.TrimSuffix(name, filepath.Ext(name)))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func mimeType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := audioExtensions[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}
