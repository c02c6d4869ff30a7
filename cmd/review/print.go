package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/freeeve/chessreview/internal/analysis"
	"github.com/freeeve/chessreview/internal/classify"
	"github.com/freeeve/chessreview/internal/game"
)

// printGame writes one game's review: a move table followed by the side
// summaries.
func printGame(w io.Writer, r *analysis.GameResult) {
	fmt.Fprintf(w, "Game %d: %s\n", r.Index+1, r.Info)
	if r.Err != nil {
		fmt.Fprintf(w, "  error: %v\n\n", r.Err)
		return
	}
	rep := r.Report
	if rep.Opening != nil {
		fmt.Fprintf(w, "Opening: %s %s\n", rep.Opening.ECO, rep.Opening.Name)
	}
	switch {
	case rep.Cancelled:
		fmt.Fprintf(w, "Cancelled: %d/%d positions evaluated\n", rep.Evaluated, rep.Positions)
	case !rep.Complete:
		fmt.Fprintf(w, "Incomplete: %d/%d positions evaluated\n", rep.Evaluated, rep.Positions)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MOVE\tPLAYED\tCLASS\tBEST\tEVAL\tLOSS\tWIN%")
	for _, m := range rep.Moves {
		played := m.Move.SAN + m.Label.Symbol()
		best := ""
		if !m.IsTop && m.BestSAN != "" {
			best = m.BestSAN
		}
		score, loss, win := "-", "-", "-"
		if m.Evaluated {
			score = m.PlayedScore.String()
			loss = fmt.Sprintf("%d", m.CentipawnLoss)
			win = fmt.Sprintf("%.1f", m.Graph)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", moveNumber(m.Move), played, m.Label, best, score, loss, win)
	}
	_ = tw.Flush()
	fmt.Fprintln(w)

	printSides(w, rep)
	fmt.Fprintln(w)
}

func moveNumber(m game.Move) string {
	if m.Color == game.White {
		return fmt.Sprintf("%d.", m.MoveNumber())
	}
	return fmt.Sprintf("%d...", m.MoveNumber())
}

func printSides(w io.Writer, rep *analysis.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SIDE\tPLAYER\tACCURACY\tACPL\tRATING\tCOUNTS")
	for _, c := range []game.Color{game.White, game.Black} {
		s := rep.Sides[c]
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%.0f\t%d\t%s\n",
			c, s.Player, s.Accuracy*100, s.AverageCentipawnLoss, s.Rating, formatCounts(s.Counts))
	}
	_ = tw.Flush()
}

// formatCounts lists non-zero label counts in label order.
func formatCounts(counts map[classify.Label]int) string {
	var parts []string
	for _, l := range classify.Labels {
		if n := counts[l]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", l, n))
		}
	}
	return strings.Join(parts, ", ")
}

func printPlayers(w io.Writer, b *analysis.BatchReport) {
	fmt.Fprintf(w, "%d games, %d analyzed, %d failed\n\n", b.TotalGames, b.SuccessfulGames, b.FailedGames)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAYER\tGAMES\tMOVES\tACCURACY\tACPL\tRATING")
	for _, p := range b.Players() {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\t%.0f\t%d\n",
			p.Name, p.GamesPlayed, p.TotalMoves, p.AvgAccuracy*100, p.AvgACPL, p.AvgRating)
	}
	_ = tw.Flush()
}
