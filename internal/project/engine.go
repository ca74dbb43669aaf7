// Package project is the collaborator-facing API: one Engine holds at most
// one open component/relation store pair and keeps a materialized graph of
// it current across mutations.
package project

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentic-research/bomstore/internal/compact"
	"github.com/agentic-research/bomstore/internal/graph"
	"github.com/agentic-research/bomstore/internal/store"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"go.uber.org/zap"
)

const (
	// ComponentExt and RelationExt name the two files of a project.
	ComponentExt = ".prd"
	RelationExt  = ".prs"
)

// session is one open file pair.
type session struct {
	path       string // component store path as opened
	fs         billy.Filesystem
	components *store.ComponentStore
	relations  *store.RelationStore
}

// Engine runs BOM operations against the open project. It is not safe for
// concurrent mutation; readers of Graph may run alongside.
type Engine struct {
	log   *zap.Logger
	now   func() time.Time
	fsFor func(dir string) billy.Filesystem
	s     *session
	graph *graph.HotSwapGraph
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock sets the time source used to name snapshots.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithFilesystem replaces how a project directory is opened; the default
// is the OS filesystem rooted at that directory.
func WithFilesystem(fn func(dir string) billy.Filesystem) Option {
	return func(e *Engine) { e.fsFor = fn }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		log:   zap.NewNop(),
		now:   time.Now,
		fsFor: func(dir string) billy.Filesystem { return osfs.New(dir) },
		graph: graph.NewHotSwapGraph(nil),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// RelationFileFor derives the relation store name paired with a component
// store name.
func RelationFileFor(componentFile string) string {
	base := filepath.Base(componentFile)
	return strings.TrimSuffix(base, filepath.Ext(base)) + RelationExt
}

func (e *Engine) require() (*session, error) {
	if e.s == nil {
		return nil, fmt.Errorf("%w: no project is open", store.ErrValidation)
	}
	return e.s, nil
}

// reset closes any open pair before another is created or opened.
func (e *Engine) reset() {
	if err := e.Close(); err != nil {
		e.log.Warn("closing previous project", zap.Error(err))
	}
}

// Create writes a fresh, empty pair at path and makes it the open project.
// The relation store sits beside it with the same base name.
func (e *Engine) Create(path string, nameWidth int16) error {
	e.reset()

	dir, base := filepath.Split(path)
	if base == "" {
		return fmt.Errorf("%w: no file name in %q", store.ErrValidation, path)
	}
	relName := RelationFileFor(base)
	if relName == base {
		return fmt.Errorf("%w: %q would be its own relation store", store.ErrValidation, base)
	}
	if len(relName) > store.RelationFileField {
		return fmt.Errorf("%w: relation file name %q is longer than %d bytes", store.ErrValidation, relName, store.RelationFileField)
	}

	fs := e.fsFor(dirOrDot(dir))
	cs, err := store.CreateComponentStore(fs, base, nameWidth, relName)
	if err != nil {
		return err
	}
	rs, err := store.CreateRelationStore(fs, relName)
	if err != nil {
		_ = cs.Close()
		return err
	}

	e.s = &session{path: path, fs: fs, components: cs, relations: rs}
	e.log.Info("project created", zap.String("path", path), zap.String("relations", relName), zap.Int16("name_width", nameWidth))
	return e.reload()
}

// Open opens an existing pair. The relation store is the one named in the
// component store header, looked up in the same directory.
func (e *Engine) Open(path string) error {
	e.reset()

	dir, base := filepath.Split(path)
	fs := e.fsFor(dirOrDot(dir))
	cs, err := store.OpenComponentStore(fs, base)
	if err != nil {
		return err
	}
	relName := cs.RelationFile()
	if relName == "" {
		_ = cs.Close()
		return fmt.Errorf("%s: header names no relation store: %w", path, store.ErrFormat)
	}
	rs, err := store.OpenRelationStore(fs, relName)
	if err != nil {
		_ = cs.Close()
		return err
	}

	e.s = &session{path: path, fs: fs, components: cs, relations: rs}
	e.log.Debug("project opened", zap.String("path", path), zap.String("relations", relName))
	return e.reload()
}

func dirOrDot(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}

// Close closes both files of the open pair. Closing with nothing open is a
// no-op.
func (e *Engine) Close() error {
	if e.s == nil {
		return nil
	}
	s := e.s
	e.s = nil
	e.graph.Swap(graph.Empty())
	return errors.Join(s.components.Close(), s.relations.Close())
}

// Path is the component store path of the open project, or "".
func (e *Engine) Path() string {
	if e.s == nil {
		return ""
	}
	return e.s.path
}

// NameWidth is the name field width of the open project.
func (e *Engine) NameWidth() (int16, error) {
	s, err := e.require()
	if err != nil {
		return 0, err
	}
	return s.components.NameWidth(), nil
}

// reload rebuilds the graph from disk and swaps it in.
func (e *Engine) reload() error {
	s, err := e.require()
	if err != nil {
		return err
	}
	g, err := graph.Build(s.components, s.relations)
	if err != nil {
		return fmt.Errorf("materialize: %w", err)
	}
	e.graph.Swap(g)
	return nil
}

// Graph returns the current generation.
func (e *Engine) Graph() (*graph.Graph, error) {
	if _, err := e.require(); err != nil {
		return nil, err
	}
	return e.graph.Load(), nil
}

// Components returns every live component in activity order.
func (e *Engine) Components() ([]*graph.Component, error) {
	if _, err := e.require(); err != nil {
		return nil, err
	}
	return e.graph.Components(), nil
}

// Tree returns the specification tree of name.
func (e *Engine) Tree(name string) ([]graph.TreeLine, error) {
	s, err := e.require()
	if err != nil {
		return nil, err
	}
	return e.graph.Tree(s.components.FitName(name))
}

// Parents returns the assemblies that use name directly.
func (e *Engine) Parents(name string) ([]*graph.Component, error) {
	s, err := e.require()
	if err != nil {
		return nil, err
	}
	return e.graph.Load().Parents(s.components.FitName(name))
}

// StoredName is name as the open project stores it: trimmed and cut to
// the name field width.
func (e *Engine) StoredName(name string) (string, error) {
	s, err := e.require()
	if err != nil {
		return "", err
	}
	return s.components.FitName(name), nil
}

// AddComponent stores a new component.
func (e *Engine) AddComponent(name string) error {
	s, err := e.require()
	if err != nil {
		return err
	}
	addr, err := s.components.Add(name)
	if err != nil {
		return err
	}
	e.log.Debug("component added", zap.String("name", s.components.FitName(name)), zap.Int32("addr", int32(addr)))
	return e.reload()
}

// DeleteComponent removes a component no assembly uses. Its own relations
// are released first.
func (e *Engine) DeleteComponent(name string) error {
	s, err := e.require()
	if err != nil {
		return err
	}
	rec, err := s.components.Lookup(name)
	if err != nil {
		return err
	}
	used, err := s.relations.FindsReference(rec.Addr)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("component %q is used in an assembly: %w", rec.Name, store.ErrConstraint)
	}

	if rec.RelationHead != store.NoRelation {
		n, err := s.relations.DeleteChain(rec.RelationHead)
		if err != nil {
			return err
		}
		if err := s.components.SetRelationHead(rec.Addr, store.NoRelation); err != nil {
			return err
		}
		e.log.Debug("relations released", zap.String("parent", rec.Name), zap.Int("count", n))
	}
	if _, err := s.components.Delete(rec.Name); err != nil {
		return err
	}
	e.log.Debug("component deleted", zap.String("name", rec.Name), zap.Int32("addr", int32(rec.Addr)))
	return e.reload()
}

// AddRelation makes child a direct child of parent.
func (e *Engine) AddRelation(parent, child string) error {
	s, err := e.require()
	if err != nil {
		return err
	}
	p, err := s.components.Lookup(parent)
	if err != nil {
		return err
	}
	c, err := s.components.Lookup(child)
	if err != nil {
		return err
	}
	if p.Addr == c.Addr {
		return fmt.Errorf("component %q cannot contain itself: %w", p.Name, store.ErrConstraint)
	}

	cycle, err := graph.WouldCreateCycle(s.components, s.relations, p.Name, c.Name)
	if err != nil {
		return err
	}
	if cycle {
		return fmt.Errorf("%q already contains %q: %w", c.Name, p.Name, store.ErrConstraint)
	}

	children, err := s.relations.Children(p.RelationHead)
	if err != nil {
		return err
	}
	for _, addr := range children {
		if addr == c.Addr {
			return fmt.Errorf("%q already contains %q: %w", p.Name, c.Name, store.ErrConstraint)
		}
	}

	head, err := s.relations.Add(p.RelationHead, c.Addr)
	if err != nil {
		return err
	}
	if err := s.components.SetRelationHead(p.Addr, head); err != nil {
		return err
	}
	e.log.Debug("relation added", zap.String("parent", p.Name), zap.String("child", c.Name), zap.Int32("addr", int32(head)))
	return e.reload()
}

// DeleteRelations clears every direct child of name.
func (e *Engine) DeleteRelations(name string) error {
	s, err := e.require()
	if err != nil {
		return err
	}
	p, err := s.components.Lookup(name)
	if err != nil {
		return err
	}
	if p.RelationHead == store.NoRelation {
		return nil
	}
	n, err := s.relations.DeleteChain(p.RelationHead)
	if err != nil {
		return err
	}
	if err := s.components.SetRelationHead(p.Addr, store.NoRelation); err != nil {
		return err
	}
	e.log.Debug("relations released", zap.String("parent", p.Name), zap.Int("count", n))
	return e.reload()
}

// WouldCreateCycle reports whether relating parent → child would close a
// cycle. Unknown names report false.
func (e *Engine) WouldCreateCycle(parent, child string) (bool, error) {
	s, err := e.require()
	if err != nil {
		return false, err
	}
	return graph.WouldCreateCycle(s.components, s.relations, parent, child)
}

// CompactOptions tunes Compact.
type CompactOptions struct {
	SortByName bool
	// Backup snapshots the pair into BackupDir before rewriting it.
	Backup bool
	// BackupDir is resolved against the project directory when relative.
	BackupDir string
}

// Compact physically removes deleted records from both files.
func (e *Engine) Compact(opts CompactOptions) (compact.Stats, error) {
	s, err := e.require()
	if err != nil {
		return compact.Stats{}, err
	}
	if opts.Backup {
		dest, err := e.Snapshot(e.backupPath(opts.BackupDir))
		if err != nil {
			return compact.Stats{}, fmt.Errorf("backup before compaction: %w", err)
		}
		e.log.Info("backup written", zap.String("path", dest))
	}

	st, err := compact.Run(s.components, s.relations, compact.Options{
		SortByName: opts.SortByName,
		Logger:     e.log,
	})
	if rerr := e.reload(); rerr != nil && err == nil {
		err = rerr
	}
	return st, err
}

func (e *Engine) backupPath(dir string) string {
	projectDir := filepath.Dir(e.s.path)
	if dir == "" {
		dir = projectDir
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(projectDir, dir)
	}
	base := strings.TrimSuffix(filepath.Base(e.s.path), filepath.Ext(e.s.path))
	return filepath.Join(dir, snapshotName(base, e.now()))
}
