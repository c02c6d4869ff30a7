package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/freeeve/chessreview/internal/analysis"
)

var (
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// wsMessage is sent to progress stream clients. Type is "progress", "done"
// or "ping"; Report is only set on "done".
type wsMessage struct {
	Type    string           `json:"type"`
	ID      string           `json:"id,omitempty"`
	Status  string           `json:"status,omitempty"`
	Percent float64          `json:"percent"`
	Engine  string           `json:"engine,omitempty"`
	Report  *analysis.Report `json:"report,omitempty"`
}

// streamAnalysis upgrades to a websocket and pushes progress until the run
// finishes, then sends the report and closes.
func (h *Handler) streamAnalysis(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Str("run", e.id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, unsubscribe := e.subscribe()
	defer unsubscribe()

	// the reader only notices the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(msg wsMessage) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	snapshot := wsMessage{Type: "progress", ID: e.id, Status: e.status(), Percent: e.run.Progress(), Engine: e.run.Engine()}
	if err := write(snapshot); err != nil {
		return
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	lastWrite := time.Now()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				rep := e.run.Wait()
				done := wsMessage{Type: "done", ID: e.id, Status: e.status(), Percent: e.run.Progress(), Report: rep}
				if err := write(done); err != nil {
					return
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, e.status()),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if err := write(wsMessage{Type: "progress", ID: e.id, Status: statusRunning, Percent: ev.Percent, Engine: ev.Engine}); err != nil {
				return
			}
			lastWrite = time.Now()
		case <-ticker.C:
			if time.Since(lastWrite) < wsPingInterval {
				continue
			}
			if err := write(wsMessage{Type: "ping"}); err != nil {
				return
			}
			lastWrite = time.Now()
		case <-gone:
			return
		case <-h.ctx.Done():
			return
		}
	}
}
