package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNoFrames is returned when a directory source holds no images.
var ErrNoFrames = errors.New("camera: no frames available")

// DirectorySource replays the images of a directory in lexical order,
// wrapping around after the last one.
type DirectorySource struct {
	mu    sync.Mutex
	files []string
	next  int
}

// NewDirectorySource indexes the .jpg/.jpeg/.png files found in dir.
func NewDirectorySource(dir string) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("camera: read dir %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("camera: %s: %w", dir, ErrNoFrames)
	}
	sort.Strings(files)
	return &DirectorySource{files: files}, nil
}

// AcquireFrame reads the next image file.
func (s *DirectorySource) AcquireFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("camera: read frame: %w", err)
	}
	return data, nil
}
