package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scribelabs/scribe-core/internal/config"
)

// Saver materializes transcript text as a local file and returns its path.
type Saver interface {
	Save(text string) (string, error)
}

// LocalSaver writes date-named plain text files into the download directory.
type LocalSaver struct {
	dir    string
	prefix string
	clock  func() time.Time
}

func NewLocalSaver(cfg config.ExportConfig) *LocalSaver {
	return &LocalSaver{
		dir:    cfg.DownloadDir,
		prefix: cfg.FilenamePrefix,
		clock:  time.Now,
	}
}

func (s *LocalSaver) Save(text string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.txt", s.prefix, s.clock().Format("2006-01-02"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write transcript file: %w", err)
	}
	return path, nil
}
