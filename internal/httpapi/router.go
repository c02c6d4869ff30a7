package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessreview/internal/accuracy"
	"github.com/freeeve/chessreview/internal/analysis"
	"github.com/freeeve/chessreview/internal/bootstrap"
	"github.com/freeeve/chessreview/internal/eco"
	"github.com/freeeve/chessreview/internal/eval"
	"github.com/freeeve/chessreview/internal/game"
	"github.com/freeeve/chessreview/internal/store"
)

const (
	// maxBodyBytes bounds submitted PGN and JSON bodies.
	maxBodyBytes = 1 << 20
	// maxEvalDepth bounds the depth accepted by /v1/eval.
	maxEvalDepth = 60
)

// Handler serves game reviews over HTTP.
type Handler struct {
	ctx       context.Context
	analyzer  *analysis.Analyzer
	scheduler *eval.Scheduler
	cache     *store.EvalCache
	openings  *eco.Database
	depth     int
	multiPV   int
	runs      *runRegistry
	log       zerolog.Logger
}

// NewRouter creates the HTTP router. Analyses started through it run under
// ctx; cancelling ctx stops them and the run janitor.
func NewRouter(ctx context.Context, log zerolog.Logger, app *bootstrap.App) http.Handler {
	srv := app.Config.Server
	h := &Handler{
		ctx:       ctx,
		analyzer:  app.Analyzer,
		scheduler: app.Scheduler,
		cache:     app.Cache,
		openings:  app.Openings,
		depth:     app.Config.Analysis.Depth,
		multiPV:   app.Config.Analysis.MultiPV,
		log:       log,
	}
	if h.depth <= 0 {
		h.depth = analysis.DefaultDepth
	}
	h.runs = newRunRegistry(ctx, app.Analyzer, srv.MaxRuns, srv.RunTTL, log.With().Str("component", "runs").Logger())
	go h.runs.janitor()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /readyz", h.health)
	mux.HandleFunc("GET /v1/stats", h.stats)
	mux.HandleFunc("GET /v1/eval", h.evaluate)
	mux.HandleFunc("GET /v1/analyses", h.listAnalyses)
	mux.HandleFunc("POST /v1/analyses", h.createAnalysis)
	mux.HandleFunc("GET /v1/analyses/{id}", h.getAnalysis)
	mux.HandleFunc("DELETE /v1/analyses/{id}", h.cancelAnalysis)
	mux.HandleFunc("GET /v1/analyses/{id}/ws", h.streamAnalysis)

	// pprof endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	handler := CORS(RequestID(AccessLog(log, mux)))
	return handler
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	runs := h.runs.list()
	active := 0
	for _, e := range runs {
		if e.status() == statusRunning {
			active++
		}
	}
	openings := 0
	if h.openings != nil {
		openings = h.openings.Count()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scheduler": h.scheduler.Stats(),
		"cache":     h.cache.Stats(),
		"openings":  openings,
		"runs": map[string]int{
			"active": active,
			"total":  len(runs),
		},
	})
}

// analysisRequest is the JSON form of POST /v1/analyses. Exactly one of
// PGN, Moves (SAN) or UCI is used, in that order of preference.
type analysisRequest struct {
	PGN   string   `json:"pgn"`
	FEN   string   `json:"fen"`
	Moves []string `json:"moves"`
	UCI   []string `json:"uci"`
}

func (req analysisRequest) game() (*game.Game, error) {
	if req.PGN != "" {
		return game.ParsePGN(req.PGN)
	}
	start := game.Position(req.FEN)
	if req.FEN != "" {
		if err := game.Validate(start); err != nil {
			return nil, err
		}
	}
	if len(req.UCI) > 0 {
		return game.ReplayUCI(start, req.UCI)
	}
	if len(req.Moves) == 0 {
		return nil, analysis.ErrNoMoves
	}
	return game.Replay(start, req.Moves)
}

// readGame decodes the submitted game: JSON bodies follow analysisRequest,
// anything else is read as PGN text.
func readGame(r *http.Request) (*game.Game, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		var req analysisRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, errors.New("invalid JSON body: " + err.Error())
		}
		return req.game()
	}
	return game.ParsePGN(string(body))
}

func (h *Handler) createAnalysis(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	g, err := readGame(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(g.Moves) == 0 {
		writeError(w, http.StatusBadRequest, analysis.ErrNoMoves)
		return
	}

	e, err := h.runs.start(g)
	switch {
	case errors.Is(err, errTooManyRuns):
		writeError(w, http.StatusTooManyRequests, err)
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h.log.Info().
		Str("rid", GetRequestID(r.Context())).
		Str("run", e.id).
		Int("moves", len(g.Moves)).
		Msg("analysis submitted")

	w.Header().Set("Location", "/v1/analyses/"+e.id)
	writeJSON(w, http.StatusAccepted, e.view(false))
}

func (h *Handler) listAnalyses(w http.ResponseWriter, r *http.Request) {
	runs := h.runs.list()
	views := make([]runView, len(runs))
	for i, e := range runs {
		views[i] = e.view(false)
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": views})
}

func (h *Handler) lookupRun(w http.ResponseWriter, r *http.Request) (*runEntry, bool) {
	e, err := h.runs.get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return e, true
}

func (h *Handler) getAnalysis(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.view(true))
}

// cancelAnalysis stops a run. Cancelling a finished run is a no-op.
func (h *Handler) cancelAnalysis(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	e.run.Cancel()
	h.log.Info().Str("rid", GetRequestID(r.Context())).Str("run", e.id).Msg("analysis cancel requested")
	writeJSON(w, http.StatusAccepted, e.view(false))
}

// lineView is an engine line with its first move in SAN.
type lineView struct {
	eval.Line
	SAN        string  `json:"san,omitempty"`
	WinPercent float64 `json:"win_percent"`
}

// evaluate runs a single-position evaluation: GET /v1/eval?fen=...&depth=N&multipv=N
func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fen := q.Get("fen")
	if fen == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing fen parameter"))
		return
	}
	pos := game.Position(fen)
	if err := game.Validate(pos); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid FEN: "+err.Error()))
		return
	}
	depth, err := intParam(q.Get("depth"), h.depth)
	if err != nil || depth <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid depth"))
		return
	}
	if depth > maxEvalDepth {
		writeError(w, http.StatusBadRequest, fmt.Errorf("depth above %d", maxEvalDepth))
		return
	}
	multiPV, err := intParam(q.Get("multipv"), h.multiPV)
	if err != nil || multiPV < 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid multipv"))
		return
	}

	b := h.scheduler.BatchEvaluate(r.Context(), []eval.Job{{Position: pos}}, eval.Options{
		PoolSize: 1,
		Depth:    depth,
		MultiPV:  multiPV,
	})
	ep := b.Wait()[0]
	if !ep.Evaluated() {
		if r.Context().Err() != nil {
			return
		}
		writeError(w, http.StatusBadGateway, errors.New("evaluation failed"))
		return
	}

	lines := make([]lineView, len(ep.Lines))
	for i, l := range ep.Lines {
		lines[i] = lineView{Line: l, WinPercent: accuracy.WinPercent(l.Score)}
		if mv := l.Move(); mv != "" {
			if san, err := game.UCIToSAN(pos, mv); err == nil {
				lines[i].SAN = san
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fen":    ep.Position,
		"side":   pos.SideToMove(),
		"engine": ep.Engine,
		"depth":  ep.Depth,
		"lines":  lines,
	})
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
