package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/freeeve/chessreview/internal/analysis"
	"github.com/freeeve/chessreview/internal/bootstrap"
	"github.com/freeeve/chessreview/internal/config"
	"github.com/freeeve/chessreview/internal/eval"
	"github.com/freeeve/chessreview/internal/game"
)

// gateEngine plays the first legal move at 0.00 once its gate is open.
type gateEngine struct {
	gate <-chan struct{}
}

func (e gateEngine) Name() string { return "gate" }

func (e gateEngine) Search(ctx context.Context, pos game.Position, lim eval.Limits) ([]eval.Line, error) {
	select {
	case <-e.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	moves, err := game.LegalMoves(pos)
	if err != nil || len(moves) == 0 {
		return nil, err
	}
	return []eval.Line{{Rank: 1, Depth: lim.Depth, Score: eval.CP(0), PV: moves[:1]}}, nil
}

func (e gateEngine) Close() error { return nil }

func openGate() chan struct{} {
	gate := make(chan struct{})
	close(gate)
	return gate
}

func newTestRouter(t *testing.T, gate <-chan struct{}, maxRuns int) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Engine:   config.EngineConfig{Profiles: []eval.Profile{{Name: "gate", Path: "fake"}}},
		Analysis: config.AnalysisConfig{Depth: 8, PoolSize: 1, MultiPV: 2},
		Server:   config.ServerConfig{MaxRuns: maxRuns, RunTTL: time.Hour},
	}
	start := func(ctx context.Context, p eval.Profile, log zerolog.Logger) (eval.Engine, error) {
		return gateEngine{gate: gate}, nil
	}
	app, err := bootstrap.Setup(cfg, zerolog.Nop(), start)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRouter(ctx, zerolog.Nop(), app)
}

func do(h http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type testReport struct {
	Tags      map[string]string `json:"tags"`
	Moves     []json.RawMessage `json:"moves"`
	Complete  bool              `json:"complete"`
	Cancelled bool              `json:"cancelled"`
}

type testRun struct {
	ID      string      `json:"id"`
	Status  string      `json:"status"`
	Percent float64     `json:"percent"`
	Moves   int         `json:"moves"`
	White   string      `json:"white"`
	Report  *testReport `json:"report"`
}

func decodeRun(t *testing.T, rec *httptest.ResponseRecorder) testRun {
	t.Helper()
	var v testRun
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	return v
}

func submit(t *testing.T, h http.Handler, contentType, body string) testRun {
	t.Helper()
	rec := do(h, http.MethodPost, "/v1/analyses", contentType, body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: status %d: %s", rec.Code, rec.Body.String())
	}
	return decodeRun(t, rec)
}

func waitFinished(t *testing.T, h http.Handler, id string) testRun {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := do(h, http.MethodGet, "/v1/analyses/"+id, "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("get: status %d", rec.Code)
		}
		v := decodeRun(t, rec)
		if v.Status != statusRunning {
			return v
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("analysis %s did not finish", id)
	return testRun{}
}

func TestHealthAndRequestID(t *testing.T) {
	is := is.New(t)
	h := newTestRouter(t, openGate(), 0)

	rec := do(h, http.MethodGet, "/healthz", "", "")
	is.Equal(rec.Code, http.StatusOK)
	is.Equal(rec.Body.String(), "ok")
	is.Equal(len(rec.Header().Get("X-Request-ID")), 8)
	is.Equal(rec.Header().Get("Access-Control-Allow-Origin"), "*")

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("X-Request-ID", "client-req_42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	is.Equal(rec.Header().Get("X-Request-ID"), "client-req_42")

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("X-Request-ID", "bad id!")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	is.True(rec.Header().Get("X-Request-ID") != "bad id!")

	rec = do(h, http.MethodOptions, "/v1/analyses", "", "")
	is.Equal(rec.Code, http.StatusNoContent)
}

func TestAnalysisFromJSON(t *testing.T) {
	is := is.New(t)
	h := newTestRouter(t, openGate(), 0)

	rec := do(h, http.MethodPost, "/v1/analyses", "application/json", `{"moves":["e4","e5","Nf3"]}`)
	is.Equal(rec.Code, http.StatusAccepted)
	run := decodeRun(t, rec)
	is.True(run.ID != "")
	is.Equal(rec.Header().Get("Location"), "/v1/analyses/"+run.ID)
	is.Equal(run.Moves, 3)

	done := waitFinished(t, h, run.ID)
	is.Equal(done.Status, statusDone)
	is.Equal(done.Percent, 100.0)
	is.True(done.Report != nil)
	is.Equal(len(done.Report.Moves), 3)
	is.True(done.Report.Complete)

	rec = do(h, http.MethodGet, "/v1/analyses", "", "")
	is.Equal(rec.Code, http.StatusOK)
	var list struct {
		Analyses []testRun `json:"analyses"`
	}
	is.NoErr(json.NewDecoder(rec.Body).Decode(&list))
	is.Equal(len(list.Analyses), 1)
	is.True(list.Analyses[0].Report == nil) // listings omit reports
}

func TestAnalysisFromUCIAndFEN(t *testing.T) {
	is := is.New(t)
	h := newTestRouter(t, openGate(), 0)

	body := `{"fen":"4k3/8/8/8/8/8/4P3/4K3 w - - 0 1","uci":["e2e4","e8d7"]}`
	run := submit(t, h, "application/json", body)
	done := waitFinished(t, h, run.ID)
	is.Equal(done.Status, statusDone)
	is.Equal(len(done.Report.Moves), 2)
}

func TestAnalysisFromPGN(t *testing.T) {
	is := is.New(t)
	h := newTestRouter(t, openGate(), 0)

	pgnText := "[White \"Alice\"]\n[Black \"Bob\"]\n\n1. d4 d5 2. c4 *\n"
	run := submit(t, h, "application/x-chess-pgn", pgnText)
	is.Equal(run.White, "Alice")
	done := waitFinished(t, h, run.ID)
	is.Equal(done.Report.Tags["Black"], "Bob")
	is.Equal(len(done.Report.Moves), 3)
}

func TestAnalysisBadInput(t *testing.T) {
	h := newTestRouter(t, openGate(), 0)
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"bad json", "application/json", `{"moves":`},
		{"illegal move", "application/json", `{"moves":["e4","e4"]}`},
		{"no moves", "application/json", `{}`},
		{"bad fen", "application/json", `{"fen":"not a fen","moves":["e4"]}`},
		{"empty pgn", "text/plain", "[Event \"x\"]\n\n*\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			rec := do(h, http.MethodPost, "/v1/analyses", tt.contentType, tt.body)
			is.Equal(rec.Code, http.StatusBadRequest)
			is.True(strings.Contains(rec.Body.String(), `"error"`))
		})
	}
}

func TestAnalysisNotFound(t *testing.T) {
	is := is.New(t)
	h := newTestRouter(t, openGate(), 0)
	is.Equal(do(h, http.MethodGet, "/v1/analyses/nope", "", "").Code, http.StatusNotFound)
	is.Equal(do(h, http.MethodDelete, "/v1/analyses/nope", "", "").Code, http.StatusNotFound)
}

func TestCancelAnalysis(t *testing.T) {
	is := is.New(t)
	h := newTestRouter(t, make(chan struct{}), 0)

	run := submit(t, h, "application/json", `{"moves":["e4","e5"]}`)
	is.Equal(run.Status, statusRunning)

	rec := do(h, http.MethodDelete, "/v1/analyses/"+run.ID, "", "")
	is.Equal(rec.Code, http.StatusAccepted)

	done := waitFinished(t, h, run.ID)
	is.Equal(done.Status, statusCancelled)
	is.True(done.Report.Cancelled)
	is.True(!done.Report.Complete)

	// cancelling again is harmless
	rec = do(h, http.MethodDelete, "/v1/analyses/"+run.ID, "", "")
	is.Equal(rec.Code, http.StatusAccepted)
	is.Equal(decodeRun(t, rec).Status, statusCancelled)
}

func TestTooManyRuns(t *testing.T) {
	is := is.New(t)
	h := newTestRouter(t, make(chan struct{}), 1)

	first := submit(t, h, "application/json", `{"moves":["e4"]}`)
	rec := do(h, http.MethodPost, "/v1/analyses", "application/json", `{"moves":["d4"]}`)
	is.Equal(rec.Code, http.StatusTooManyRequests)

	do(h, http.MethodDelete, "/v1/analyses/"+first.ID, "", "")
	waitFinished(t, h, first.ID)

	second := submit(t, h, "application/json", `{"moves":["d4"]}`)
	do(h, http.MethodDelete, "/v1/analyses/"+second.ID, "", "")
	waitFinished(t, h, second.ID)
}

func TestEvalEndpoint(t *testing.T) {
	is := is.New(t)
	h := newTestRouter(t, openGate(), 0)

	rec := do(h, http.MethodGet, "/v1/eval?fen="+strings.ReplaceAll(game.StartFEN, " ", "+"), "", "")
	is.Equal(rec.Code, http.StatusOK)
	var resp struct {
		Side  string `json:"side"`
		Depth int    `json:"depth"`
		Lines []struct {
			Rank       int      `json:"rank"`
			PV         []string `json:"pv"`
			SAN        string   `json:"san"`
			WinPercent float64  `json:"win_percent"`
		} `json:"lines"`
	}
	is.NoErr(json.NewDecoder(rec.Body).Decode(&resp))
	is.Equal(resp.Side, "white")
	is.Equal(resp.Depth, 8)
	is.Equal(len(resp.Lines), 1)
	is.True(resp.Lines[0].SAN != "")
	is.Equal(resp.Lines[0].WinPercent, 50.0)

	is.Equal(do(h, http.MethodGet, "/v1/eval", "", "").Code, http.StatusBadRequest)
	is.Equal(do(h, http.MethodGet, "/v1/eval?fen=garbage", "", "").Code, http.StatusBadRequest)
	is.Equal(do(h, http.MethodGet, "/v1/eval?fen="+strings.ReplaceAll(game.StartFEN, " ", "+")+"&depth=x", "", "").Code, http.StatusBadRequest)
	is.Equal(do(h, http.MethodGet, "/v1/eval?fen="+strings.ReplaceAll(game.StartFEN, " ", "+")+"&depth=100000", "", "").Code, http.StatusBadRequest)

	rec = do(h, http.MethodGet, "/v1/stats", "", "")
	is.Equal(rec.Code, http.StatusOK)
	var stats struct {
		Scheduler eval.SchedulerStats `json:"scheduler"`
	}
	is.NoErr(json.NewDecoder(rec.Body).Decode(&stats))
	is.Equal(stats.Scheduler.Batches, int64(1))
}

func TestProgressStream(t *testing.T) {
	is := is.New(t)
	gate := make(chan struct{})
	h := newTestRouter(t, gate, 0)
	srv := httptest.NewServer(h)
	defer srv.Close()

	run := submit(t, h, "application/json", `{"moves":["e4","e5","Nf3"]}`)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/analyses/" + run.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	is.NoErr(err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first wsMessage
	is.NoErr(conn.ReadJSON(&first))
	is.Equal(first.Type, "progress")
	is.Equal(first.ID, run.ID)

	close(gate)

	var last wsMessage
	percent := first.Percent
	for {
		var msg struct {
			Type    string      `json:"type"`
			Status  string      `json:"status"`
			Percent float64     `json:"percent"`
			Report  *testReport `json:"report"`
		}
		is.NoErr(conn.ReadJSON(&msg))
		if msg.Type == "ping" {
			continue
		}
		is.True(msg.Percent >= percent) // progress never goes backwards
		percent = msg.Percent
		if msg.Type == "done" {
			is.Equal(msg.Status, statusDone)
			is.True(msg.Report != nil)
			is.True(msg.Report.Complete)
			last.Type = msg.Type
			break
		}
	}
	is.Equal(last.Type, "done")
	is.Equal(percent, 100.0)
}

func TestStreamUnknownRun(t *testing.T) {
	is := is.New(t)
	h := newTestRouter(t, openGate(), 0)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/analyses/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	is.True(err != nil)
	is.Equal(resp.StatusCode, http.StatusNotFound)
}

func TestRegistryPrune(t *testing.T) {
	is := is.New(t)
	r := newRunRegistry(context.Background(), nil, 0, time.Minute, zerolog.Nop())
	now := time.Now()
	old := &runEntry{id: "old", subs: map[chan progressEvent]struct{}{}}
	r.runs["old"] = old
	r.runs["running"] = &runEntry{id: "running", subs: map[chan progressEvent]struct{}{}}

	is.Equal(r.prune(now), 0) // nothing finished yet

	ch, _ := old.subscribe()
	old.finish(&analysis.Report{})
	_, open := <-ch
	is.True(!open) // finishing closes subscriber channels
	old.finished = now.Add(-2 * time.Minute)

	is.Equal(r.prune(now), 1)
	_, err := r.get("old")
	is.Equal(err, errRunNotFound)
	_, err = r.get("running")
	is.NoErr(err)
}
