package eval

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func TestRemoteLookup(t *testing.T) {
	is := is.New(t)

	var gotPath, gotFEN, gotMultiPV string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFEN = r.URL.Query().Get("fen")
		gotMultiPV = r.URL.Query().Get("multiPv")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"fen":"x","knodes":1000,"depth":35,"pvs":[{"moves":"e7e5 g1f3","cp":25},{"moves":"c7c5","mate":-3}]}`))
	}))
	defer srv.Close()

	c := NewRemoteClient(RemoteConfig{BaseURL: srv.URL + "/", Logger: zerolog.Nop()})
	pos := testFEN(1, true)
	res, err := c.Lookup(context.Background(), pos, 2, 30)
	is.NoErr(err)
	is.Equal(gotPath, "/api/cloud-eval")
	is.Equal(gotFEN, string(pos))
	is.Equal(gotMultiPV, "2")
	is.Equal(res.Engine, "cloud")
	is.Equal(res.Depth, 35)
	is.Equal(len(res.Lines), 2)
	// cloud scores are white-relative; black is to move here
	is.Equal(res.Lines[0].Score, CP(-25))
	is.Equal(res.Lines[0].PV, []string{"e7e5", "g1f3"})
	is.Equal(res.Lines[1].Score, MateIn(3))
	is.Equal(res.Lines[1].Rank, 2)
}

func TestRemoteLookupNotFound(t *testing.T) {
	is := is.New(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewRemoteClient(RemoteConfig{BaseURL: srv.URL, Attempts: 3, Logger: zerolog.Nop()})
	res, err := c.Lookup(context.Background(), testFEN(1, false), 1, 0)
	is.True(errors.Is(err, ErrNotFound))
	is.True(!res.Evaluated())
	is.Equal(hits.Load(), int32(1)) // not retried
}

func TestRemoteLookupRetriesServerErrors(t *testing.T) {
	is := is.New(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"depth":20,"pvs":[{"moves":"e2e4","cp":18}]}`))
	}))
	defer srv.Close()

	c := NewRemoteClient(RemoteConfig{BaseURL: srv.URL, Attempts: 2, Logger: zerolog.Nop()})
	res, err := c.Lookup(context.Background(), testFEN(1, false), 1, 0)
	is.NoErr(err)
	is.Equal(res.Lines[0].Score, CP(18))
	is.Equal(hits.Load(), int32(2))
}

func TestRemoteLookupTimeout(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewRemoteClient(RemoteConfig{BaseURL: srv.URL, Attempts: 1, Timeout: 20 * time.Millisecond, Logger: zerolog.Nop()})
	start := time.Now()
	_, err := c.Lookup(context.Background(), testFEN(1, false), 1, 0)
	is.True(err != nil)
	is.True(time.Since(start) < 500*time.Millisecond)
}

func TestRemoteLookupTooShallow(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"depth":12,"pvs":[{"moves":"e2e4","cp":18}]}`))
	}))
	defer srv.Close()

	c := NewRemoteClient(RemoteConfig{BaseURL: srv.URL, Attempts: 1, Logger: zerolog.Nop()})
	res, err := c.Lookup(context.Background(), testFEN(1, false), 1, 20)
	is.True(errors.Is(err, ErrNotFound))
	is.True(!res.Evaluated())

	res, err = c.Lookup(context.Background(), testFEN(1, false), 1, 12)
	is.NoErr(err)
	is.Equal(res.Depth, 12)
}
