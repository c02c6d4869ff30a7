package eval

import (
	"sort"
	"strconv"
	"strings"
)

// infoLine is one parsed "info" notification.
type infoLine struct {
	line  Line
	bound bool // lowerbound/upperbound: not a final score for the depth
}

// parseInfo parses a UCI "info" line carrying a score. Lines without a score
// (currmove, string, hashfull-only) return ok=false.
func parseInfo(text string) (infoLine, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || fields[0] != "info" {
		return infoLine{}, false
	}

	var out infoLine
	out.line.Rank = 1
	hasScore := false

	for i := 1; i < len(fields); i++ {
		switch fields[i] {
		case "string":
			return infoLine{}, false
		case "depth":
			if i+1 < len(fields) {
				out.line.Depth, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "multipv":
			if i+1 < len(fields) {
				if n, err := strconv.Atoi(fields[i+1]); err == nil && n > 0 {
					out.line.Rank = n
				}
				i++
			}
		case "score":
			if i+2 >= len(fields) {
				return infoLine{}, false
			}
			v, err := strconv.Atoi(fields[i+2])
			if err != nil {
				return infoLine{}, false
			}
			switch fields[i+1] {
			case "cp":
				out.line.Score = CP(v)
			case "mate":
				out.line.Score = MateIn(v)
			default:
				return infoLine{}, false
			}
			hasScore = true
			i += 2
		case "lowerbound", "upperbound":
			out.bound = true
		case "pv":
			out.line.PV = append([]string(nil), fields[i+1:]...)
			i = len(fields)
		}
	}
	if !hasScore {
		return infoLine{}, false
	}
	return out, true
}

// infoCollector keeps the latest line per multipv rank and the maximum depth
// seen. Only lines at that depth are reported.
type infoCollector struct {
	maxDepth int
	byRank   map[int]Line
}

func newInfoCollector() *infoCollector {
	return &infoCollector{byRank: make(map[int]Line)}
}

// add feeds one engine output line; anything that is not a scored info line
// is ignored.
func (c *infoCollector) add(text string) {
	info, ok := parseInfo(text)
	if !ok || info.bound {
		return
	}
	if info.line.Depth > c.maxDepth {
		c.maxDepth = info.line.Depth
	}
	c.byRank[info.line.Rank] = info.line
}

func (c *infoCollector) depth() int {
	return c.maxDepth
}

func (c *infoCollector) lines() []Line {
	out := make([]Line, 0, len(c.byRank))
	for _, l := range c.byRank {
		if l.Depth == c.maxDepth {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}
