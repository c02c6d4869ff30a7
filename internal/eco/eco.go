// Package eco provides ECO (Encyclopedia of Chess Openings) lookup.
package eco

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/freeeve/chessreview/internal/game"
)

// Opening represents an ECO opening classification.
type Opening struct {
	ECO  string `json:"eco"`
	Name string `json:"name"`
	Ply  int    `json:"ply"` // length of the defining move sequence
}

// Database holds ECO opening data indexed by position key.
type Database struct {
	byPosition map[string]Opening
	maxPly     int
	count      int
}

// NewDatabase creates an empty ECO database.
func NewDatabase() *Database {
	return &Database{
		byPosition: make(map[string]Opening),
	}
}

// LoadDir loads all .tsv files from a directory.
func (db *Database) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .tsv files found in %s", dir)
	}

	for _, file := range files {
		if err := db.LoadFile(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// LoadFile loads a single TSV file.
func (db *Database) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return db.LoadReader(f)
}

// LoadReader loads TSV rows "eco\tname\tpgn" from r. Rows whose moves do
// not replay are skipped.
func (db *Database) LoadReader(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		// Skip header
		if lineNum == 1 && strings.HasPrefix(line, "eco\t") {
			continue
		}

		// Parse TSV: eco\tname\tpgn
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}

		g, err := game.Replay("", game.ParseMoveText(parts[2]))
		if err != nil || len(g.Moves) == 0 {
			// Skip invalid lines silently
			continue
		}

		ply := len(g.Moves)
		db.byPosition[g.Final().Key()] = Opening{ECO: parts[0], Name: parts[1], Ply: ply}
		if ply > db.maxPly {
			db.maxPly = ply
		}
		db.count++
	}

	return scanner.Err()
}

// Lookup returns the ECO opening for a position, or nil if not found.
func (db *Database) Lookup(pos game.Position) *Opening {
	if db == nil {
		return nil
	}
	if o, ok := db.byPosition[pos.Key()]; ok {
		return &o
	}
	return nil
}

// Classify returns the deepest named opening reached by moves and the number
// of leading moves that stay inside known opening positions.
func (db *Database) Classify(moves []game.Move) (*Opening, int) {
	if db == nil {
		return nil, 0
	}
	var found *Opening
	book := 0
	for i, m := range moves {
		if i >= db.maxPly {
			break
		}
		o := db.Lookup(m.After)
		if o == nil {
			break
		}
		found = o
		book = i + 1
	}
	return found, book
}

// Count returns the number of openings loaded.
func (db *Database) Count() int {
	if db == nil {
		return 0
	}
	return db.count
}
