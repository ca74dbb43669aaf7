package project

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/agentic-research/bomstore/internal/snapshot"
	"github.com/agentic-research/bomstore/internal/store"
	"go.uber.org/zap"
)

func snapshotName(base string, t time.Time) string {
	return snapshot.FileName(base, t)
}

// Snapshot archives the open pair to dest and returns the path written. An
// empty dest puts a timestamped archive beside the project.
func (e *Engine) Snapshot(dest string) (string, error) {
	s, err := e.require()
	if err != nil {
		return "", err
	}
	if dest == "" {
		dest = e.backupPath("")
	}
	if err := s.components.Sync(); err != nil {
		return "", err
	}
	if err := s.relations.Sync(); err != nil {
		return "", err
	}

	out := e.fsFor(filepath.Dir(dest))
	f, err := out.Create(filepath.Base(dest))
	if err != nil {
		return "", fmt.Errorf("create %s: %w: %w", dest, store.ErrIO, err)
	}
	werr := snapshot.Write(f, s.fs, e.now(), s.components.FileName(), s.relations.FileName())
	cerr := f.Close()
	if werr != nil {
		_ = out.Remove(filepath.Base(dest))
		return "", werr
	}
	if cerr != nil {
		return "", fmt.Errorf("close %s: %w: %w", dest, store.ErrIO, cerr)
	}
	e.log.Debug("snapshot written", zap.String("path", dest))
	return dest, nil
}

// Restore unpacks an archive into dir, replacing any files of the same
// names, and opens the restored project. It returns the component store
// path.
func (e *Engine) Restore(archive, dir string) (string, error) {
	e.reset()

	src := e.fsFor(filepath.Dir(archive))
	f, err := src.Open(filepath.Base(archive))
	if err != nil {
		return "", fmt.Errorf("open %s: %w: %w", archive, store.ErrNotFound, err)
	}
	a, err := snapshot.Read(f)
	_ = f.Close()
	if err != nil {
		return "", err
	}

	var component string
	for _, name := range a.Names() {
		if filepath.Ext(name) == ComponentExt {
			component = name
			break
		}
	}
	if component == "" {
		return "", fmt.Errorf("%s holds no %s file: %w", archive, ComponentExt, store.ErrFormat)
	}

	if err := snapshot.Restore(e.fsFor(dir), a); err != nil {
		return "", err
	}
	path := filepath.Join(dir, component)
	e.log.Info("snapshot restored", zap.String("archive", archive), zap.String("path", path))
	return path, e.Open(path)
}
