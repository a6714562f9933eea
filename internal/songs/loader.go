package songs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LoadDir reads every *.json song record in dir. Files that fail to parse or
// normalize are skipped with a warning; an unreadable dir is an error.
func LoadDir(dir string, now time.Time, logger *zap.Logger) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read songs dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	list := make([]*Song, 0, len(names))
	for _, name := range names {
		s, err := loadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("skipping song file", zap.String("file", name), zap.Error(err))
			continue
		}
		list = append(list, s)
	}
	return NewCatalog(list, now), nil
}

func loadFile(path string) (*Song, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Song
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSong, err)
	}
	if s.ID == "" && s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := s.Normalize(); err != nil {
		return nil, err
	}
	return &s, nil
}
