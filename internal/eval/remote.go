package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/freeeve/chessreview/internal/game"
)

// RemoteConfig configures a cloud evaluation client.
type RemoteConfig struct {
	BaseURL  string        // default https://lichess.org
	Timeout  time.Duration // per attempt, default 2s
	Attempts uint          // default 2
	Client   *http.Client
	Logger   zerolog.Logger
}

// RemoteClient looks up positions in the Lichess cloud evaluation database.
// Unknown positions return ErrNotFound so callers fall through to a local
// engine.
type RemoteClient struct {
	cfg    RemoteConfig
	client *http.Client
	log    zerolog.Logger
}

func NewRemoteClient(cfg RemoteConfig) *RemoteClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://lichess.org"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 2
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &RemoteClient{
		cfg:    cfg,
		client: client,
		log:    cfg.Logger.With().Str("component", "remote").Logger(),
	}
}

func (c *RemoteClient) Name() string { return "cloud" }

type cloudEvalResponse struct {
	FEN    string `json:"fen"`
	KNodes int    `json:"knodes"`
	Depth  int    `json:"depth"`
	PVs    []struct {
		Moves string `json:"moves"`
		CP    *int   `json:"cp,omitempty"`
		Mate  *int   `json:"mate,omitempty"`
	} `json:"pvs"`
}

// Lookup fetches the cloud evaluation for pos. Scores are returned relative
// to the side to move. Evaluations shallower than depth are ErrNotFound.
func (c *RemoteClient) Lookup(ctx context.Context, pos game.Position, multiPV, depth int) (EvaluatedPosition, error) {
	if multiPV < 1 {
		multiPV = 1
	}
	q := url.Values{}
	q.Set("fen", string(pos))
	q.Set("multiPv", fmt.Sprint(multiPV))
	endpoint := c.cfg.BaseURL + "/api/cloud-eval?" + q.Encode()

	resp, err := retry.DoWithData(
		func() (*cloudEvalResponse, error) {
			return c.fetch(ctx, endpoint)
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.log.Debug().Err(err).Str("fen", string(pos)).Msg("cloud eval failed")
		}
		return EvaluatedPosition{Position: pos}, err
	}

	lines := make([]Line, 0, len(resp.PVs))
	for i, pv := range resp.PVs {
		l := Line{Rank: i + 1, Depth: resp.Depth, PV: strings.Fields(pv.Moves)}
		switch {
		case pv.Mate != nil:
			l.Score = MateIn(*pv.Mate)
		case pv.CP != nil:
			l.Score = CP(*pv.CP)
		default:
			continue
		}
		lines = append(lines, l)
	}
	res := EvaluatedPosition{
		Position: pos,
		Lines:    Orient(lines, pos, WhitePOV, SideToMove),
		Engine:   c.Name(),
		Depth:    resp.Depth,
	}
	if !res.Covers(depth) {
		return EvaluatedPosition{Position: pos}, ErrNotFound
	}
	return res, nil
}

func (c *RemoteClient) fetch(ctx context.Context, endpoint string) (*cloudEvalResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, retry.Unrecoverable(ErrNotFound)
	case res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests:
		return nil, retry.Unrecoverable(fmt.Errorf("cloud eval: status %d", res.StatusCode))
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("cloud eval: status %d", res.StatusCode)
	}

	var out cloudEvalResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode cloud eval: %w", err)
	}
	return &out, nil
}
