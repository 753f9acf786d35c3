// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cookies

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/log"
)

// File serves the cookie jar backing browser captures. Loads are cached
// against the file's mtime and size so the hot capture path stats instead
// of re-parsing, while out-of-band edits (uploads, manual replacement)
// are picked up on the next load.
type File struct {
	path   string
	logger zerolog.Logger

	mu      sync.Mutex
	modTime time.Time
	size    int64
	cached  []Cookie
	primed  bool
}

func NewFile(path string) *File {
	return &File{
		path:   path,
		logger: log.WithComponent("cookies"),
	}
}

func (f *File) Path() string { return f.path }

// Load returns the current cookies. A missing file is an empty jar, not
// an error; captures simply run without a session.
func (f *File) Load() ([]Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(f.path)
	if os.IsNotExist(err) {
		f.cached, f.primed = nil, false
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat cookie file: %w", err)
	}

	if f.primed && info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return f.cached, nil
	}

	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	f.cached = Parse(raw)
	f.modTime = info.ModTime()
	f.size = info.Size()
	f.primed = true
	f.logger.Debug().
		Str(log.FieldPath, f.path).
		Int("cookies", len(f.cached)).
		Msg("cookie file loaded")
	return f.cached, nil
}

// Replace validates and atomically installs a new cookie file.
func (f *File) Replace(data []byte) error {
	if err := Validate(data); err != nil {
		return fmt.Errorf("invalid cookie file: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create cookie dir: %w", err)
	}
	pending, err := renameio.NewPendingFile(f.path)
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			f.logger.Debug().Err(err).Msg("cleanup pending cookie file")
		}
	}()
	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write cookie file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace cookie file: %w", err)
	}

	f.primed = false // force re-parse on next load
	cookies := Parse(data)
	f.logger.Info().
		Str(log.FieldPath, f.path).
		Int("cookies", len(cookies)).
		Msg("cookie file replaced")
	return nil
}
