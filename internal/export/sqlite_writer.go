// Package export writes a materialized BOM into a SQLite database so it can
// be queried with ordinary SQL.
package export

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/agentic-research/bomstore/internal/graph"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS components (
	address INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	kind TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_components_name ON components(name COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS relations (
	parent INTEGER NOT NULL REFERENCES components(address),
	child INTEGER NOT NULL REFERENCES components(address),
	position INTEGER NOT NULL,
	quantity INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (parent, child)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS idx_relations_child ON relations(child);
`

// Counts is what an export wrote.
type Counts struct {
	Components int
	Relations  int
}

// SQLiteWriter writes components and relations in a single transaction.
type SQLiteWriter struct {
	db            *sql.DB
	tx            *sql.Tx
	stmtComponent *sql.Stmt
	stmtRelation  *sql.Stmt
}

// NewSQLiteWriter creates dbPath afresh, replacing any earlier export, and
// initializes the schema.
func NewSQLiteWriter(dbPath string) (*SQLiteWriter, error) {
	if err := os.Remove(dbPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replace %s: %w", dbPath, err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	w := &SQLiteWriter{db: db}
	if err := w.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLiteWriter) beginTx() error {
	var err error
	w.tx, err = w.db.Begin()
	if err != nil {
		return err
	}
	w.stmtComponent, err = w.tx.Prepare(`INSERT INTO components (address, name, kind) VALUES (?, ?, ?)`)
	if err != nil {
		w.rollback()
		return fmt.Errorf("prepare component insert: %w", err)
	}
	w.stmtRelation, err = w.tx.Prepare(`INSERT OR IGNORE INTO relations (parent, child, position) VALUES (?, ?, ?)`)
	if err != nil {
		w.rollback()
		return fmt.Errorf("prepare relation insert: %w", err)
	}
	return nil
}

// rollback discards the open transaction and its statements.
func (w *SQLiteWriter) rollback() {
	if w.stmtComponent != nil {
		_ = w.stmtComponent.Close()
		w.stmtComponent = nil
	}
	if w.stmtRelation != nil {
		_ = w.stmtRelation.Close()
		w.stmtRelation = nil
	}
	if w.tx != nil {
		_ = w.tx.Rollback()
		w.tx = nil
	}
}

// AddComponent writes one component row.
func (w *SQLiteWriter) AddComponent(c *graph.Component) error {
	if _, err := w.stmtComponent.Exec(int64(c.Addr), c.Name, c.Type().String()); err != nil {
		return fmt.Errorf("insert component %q: %w", c.Name, err)
	}
	return nil
}

// AddRelations writes one row per direct child of c, keeping chain order
// in position.
func (w *SQLiteWriter) AddRelations(c *graph.Component) error {
	for i, ch := range c.Children {
		if _, err := w.stmtRelation.Exec(int64(c.Addr), int64(ch.Addr), i); err != nil {
			return fmt.Errorf("insert relation %q -> %q: %w", c.Name, ch.Name, err)
		}
	}
	return nil
}

// Close commits the transaction and closes the database.
func (w *SQLiteWriter) Close() error {
	if w.stmtComponent != nil {
		_ = w.stmtComponent.Close()
	}
	if w.stmtRelation != nil {
		_ = w.stmtRelation.Close()
	}
	var err error
	if w.tx != nil {
		err = w.tx.Commit()
		w.tx = nil
	}
	return errors.Join(err, w.db.Close())
}

// abort rolls the transaction back and closes the database.
func (w *SQLiteWriter) abort() {
	w.rollback()
	_ = w.db.Close()
}

// Graph exports every component of g, then every relation.
func Graph(g *graph.Graph, dbPath string) (Counts, error) {
	w, err := NewSQLiteWriter(dbPath)
	if err != nil {
		return Counts{}, err
	}

	var n Counts
	components := g.Components()
	for _, c := range components {
		if err := w.AddComponent(c); err != nil {
			w.abort()
			return Counts{}, err
		}
		n.Components++
	}
	for _, c := range components {
		if err := w.AddRelations(c); err != nil {
			w.abort()
			return Counts{}, err
		}
		n.Relations += len(c.Children)
	}
	if err := w.Close(); err != nil {
		return Counts{}, fmt.Errorf("commit export: %w", err)
	}
	return n, nil
}
