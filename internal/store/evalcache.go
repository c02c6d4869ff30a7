package store

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash"
	"github.com/klauspost/compress/zstd"

	"github.com/freeeve/chessreview/internal/eval"
	"github.com/freeeve/chessreview/internal/game"
)

// ErrNotFound is returned by Lookup for positions that are not cached.
var ErrNotFound = eval.ErrNotFound

const numShards = 256

// Entry is a cached evaluation. Scores are relative to white.
type Entry struct {
	Depth int
	Lines []eval.Line
}

// EvalCache is a sharded in-memory cache of position evaluations keyed by
// the first four FEN fields. Shards evict in FIFO order once full.
type EvalCache struct {
	shards      [numShards]*evalShard
	maxPerShard int // 0 = unbounded
	hits        uint64
	misses      uint64
}

type evalShard struct {
	mu    sync.RWMutex
	evals map[string]Entry
	order []string // FIFO order for eviction
}

// NewEvalCache creates a cache holding at most maxEntries positions
// (0 = unbounded).
func NewEvalCache(maxEntries int) *EvalCache {
	c := &EvalCache{}
	if maxEntries > 0 {
		c.maxPerShard = maxEntries / numShards
		if c.maxPerShard < 16 {
			c.maxPerShard = 16 // minimum per shard
		}
	}
	for i := range c.shards {
		c.shards[i] = &evalShard{evals: make(map[string]Entry)}
	}
	return c
}

func (c *EvalCache) shard(key string) *evalShard {
	return c.shards[xxhash.Sum64String(key)%numShards]
}

// Get retrieves the entry for a position.
func (c *EvalCache) Get(pos game.Position) (Entry, bool) {
	e, ok := c.get(pos)
	c.count(ok)
	return e, ok
}

func (c *EvalCache) get(pos game.Position) (Entry, bool) {
	key := pos.Key()
	shard := c.shard(key)

	shard.mu.RLock()
	defer shard.mu.RUnlock()
	e, ok := shard.evals[key]
	return e, ok
}

func (c *EvalCache) count(hit bool) {
	if hit {
		atomic.AddUint64(&c.hits, 1)
	} else {
		atomic.AddUint64(&c.misses, 1)
	}
}

// Put stores an entry, replacing a shallower one. Deeper entries win.
func (c *EvalCache) Put(pos game.Position, e Entry) {
	if len(e.Lines) == 0 {
		return
	}
	key := pos.Key()
	shard := c.shard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if old, exists := shard.evals[key]; exists {
		if e.Depth >= old.Depth {
			shard.evals[key] = e
		}
		return
	}

	// Evict if at capacity (FIFO - evict oldest)
	for c.maxPerShard > 0 && len(shard.evals) >= c.maxPerShard && len(shard.order) > 0 {
		oldest := shard.order[0]
		shard.order = shard.order[1:]
		delete(shard.evals, oldest)
	}

	shard.evals[key] = e
	shard.order = append(shard.order, key)
}

// Record stores an engine result (scores relative to the side to move).
func (c *EvalCache) Record(ep eval.EvaluatedPosition) {
	if !ep.Evaluated() {
		return
	}
	c.Put(ep.Position, Entry{Depth: ep.Depth, Lines: eval.Orient(ep.Lines, ep.Position, eval.SideToMove, eval.WhitePOV)})
}

// Name identifies the cache as an evaluation source.
func (c *EvalCache) Name() string { return "cache" }

// Lookup implements eval.Lookup. Scores are oriented to the side to move.
// Entries shallower than depth, or whose best line has no move, count as
// misses so the engine searches the position again.
func (c *EvalCache) Lookup(ctx context.Context, pos game.Position, multiPV, depth int) (eval.EvaluatedPosition, error) {
	e, ok := c.get(pos)
	if !ok {
		c.count(false)
		return eval.EvaluatedPosition{Position: pos}, ErrNotFound
	}
	lines := e.Lines
	if multiPV > 0 && len(lines) > multiPV {
		lines = lines[:multiPV]
	}
	res := eval.EvaluatedPosition{
		Position: pos,
		Lines:    eval.Orient(lines, pos, eval.WhitePOV, eval.SideToMove),
		Engine:   c.Name(),
		Depth:    e.Depth,
	}
	if !res.Covers(depth) {
		c.count(false)
		return eval.EvaluatedPosition{Position: pos}, ErrNotFound
	}
	c.count(true)
	return res, nil
}

// Len returns the number of cached positions.
func (c *EvalCache) Len() int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		n += len(shard.evals)
		shard.mu.RUnlock()
	}
	return n
}

// EvalCacheStats holds statistics about the eval cache.
type EvalCacheStats struct {
	Entries int    `json:"entries"`
	Mates   int    `json:"mates"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// Stats returns entry counts and hit rates.
func (c *EvalCache) Stats() EvalCacheStats {
	stats := EvalCacheStats{
		Hits:   atomic.LoadUint64(&c.hits),
		Misses: atomic.LoadUint64(&c.misses),
	}
	for _, shard := range c.shards {
		shard.mu.RLock()
		stats.Entries += len(shard.evals)
		for _, e := range shard.evals {
			if len(e.Lines) > 0 && e.Lines[0].Score.IsMate() {
				stats.Mates++
			}
		}
		shard.mu.RUnlock()
	}
	return stats
}

var csvHeader = []string{"fen", "depth", "multipv", "cp", "mate", "pv"}

// LoadFromFile loads evaluations from a CSV file (supports .zst and .gz
// compression). Columns: fen, depth, multipv, cp, mate, pv; scores are white
// relative and one row is written per line.
func (c *EvalCache) LoadFromFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var reader io.Reader = f

	// Handle compression
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return 0, err
		}
		defer zr.Close()
		reader = zr
	} else if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return 0, err
		}
		defer gr.Close()
		reader = gr
	}

	return c.Load(reader)
}

// Load reads CSV rows from r and returns the number of positions added.
func (c *EvalCache) Load(r io.Reader) (int, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1

	// Skip header
	if _, err := csvReader.Read(); err != nil {
		if err == io.EOF {
			return 0, nil // Empty file
		}
		return 0, err
	}

	pending := make(map[string]*Entry)
	positions := make(map[string]game.Position)
	for {
		row, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Truncated compressed streams end with an unexpected EOF; keep what we have
			if errors.Is(err, io.ErrUnexpectedEOF) || strings.Contains(err.Error(), "EOF") {
				break
			}
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return 0, err
		}
		if len(row) < len(csvHeader) {
			continue
		}

		line, depth, ok := parseRow(row)
		if !ok {
			continue
		}
		pos := game.Position(row[0])
		key := pos.Key()
		e := pending[key]
		if e == nil {
			e = &Entry{}
			pending[key] = e
			positions[key] = pos
		}
		if depth > e.Depth {
			e.Depth = depth
		}
		e.Lines = append(e.Lines, line)
	}

	for key, e := range pending {
		sort.Slice(e.Lines, func(i, j int) bool { return e.Lines[i].Rank < e.Lines[j].Rank })
		c.Put(positions[key], *e)
	}
	return len(pending), nil
}

func parseRow(row []string) (eval.Line, int, bool) {
	depth, err := strconv.Atoi(row[1])
	if err != nil {
		return eval.Line{}, 0, false
	}
	rank, err := strconv.Atoi(row[2])
	if err != nil || rank < 1 {
		rank = 1
	}
	line := eval.Line{Rank: rank, Depth: depth, PV: strings.Fields(row[5])}
	switch {
	case row[4] != "":
		mate, err := strconv.Atoi(row[4])
		if err != nil {
			return eval.Line{}, 0, false
		}
		line.Score = eval.MateIn(mate)
	case row[3] != "":
		cp, err := strconv.Atoi(row[3])
		if err != nil {
			return eval.Line{}, 0, false
		}
		line.Score = eval.CP(cp)
	default:
		return eval.Line{}, 0, false
	}
	return line, depth, true
}

// SaveToFile writes every cached position to path, compressed with zstd
// when the name ends in .zst and gzip for .gz.
func (c *EvalCache) SaveToFile(path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var closer io.Closer
	switch {
	case strings.HasSuffix(path, ".zst"):
		zw, err := zstd.NewWriter(bw)
		if err != nil {
			return 0, err
		}
		w, closer = zw, zw
	case strings.HasSuffix(path, ".gz"):
		gw := gzip.NewWriter(bw)
		w, closer = gw, gw
	}

	n, err := c.Save(w)
	if err != nil {
		return n, err
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			return n, err
		}
	}
	if err := bw.Flush(); err != nil {
		return n, err
	}
	return n, f.Close()
}

// Save writes the cache as CSV and returns the number of positions written.
func (c *EvalCache) Save(w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		for key, e := range shard.evals {
			for _, l := range e.Lines {
				cp, mate := "", ""
				if l.Score.IsMate() {
					mate = strconv.Itoa(l.Score.Value)
				} else {
					cp = strconv.Itoa(l.Score.Value)
				}
				row := []string{key, strconv.Itoa(l.Depth), strconv.Itoa(l.Rank), cp, mate, strings.Join(l.PV, " ")}
				if err := cw.Write(row); err != nil {
					shard.mu.RUnlock()
					return n, err
				}
			}
			n++
		}
		shard.mu.RUnlock()
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("write eval cache: %w", err)
	}
	return n, nil
}
