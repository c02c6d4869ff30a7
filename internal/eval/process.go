package eval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessreview/internal/game"
)

const (
	handshakeTimeout = 10 * time.Second
	stopGrace        = 2 * time.Second
	quitGrace        = 2 * time.Second
)

// processEngine drives a UCI engine over its stdin/stdout.
type processEngine struct {
	name string
	log  zerolog.Logger

	mu     sync.Mutex // serializes searches
	wmu    sync.Mutex
	w      *bufio.Writer
	lines  chan string
	exited chan struct{}
	done   chan struct{}
	broken bool

	closeOnce sync.Once
	closeFn   func() error
}

func startProcessEngine(ctx context.Context, p Profile, log zerolog.Logger) (Engine, error) {
	p = p.withDefaults()
	if p.Path == "" {
		return nil, fmt.Errorf("profile %s: engine path required", p.Name)
	}

	cmd := exec.Command(p.Path, p.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", p.Path, err)
	}
	if p.Nice > 0 {
		if err := setNice(cmd.Process.Pid, p.Nice); err != nil {
			log.Warn().Err(err).Int("nice", p.Nice).Msg("failed to set nice value")
		}
	}

	waited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waited)
	}()
	closeFn := func() error {
		stdin.Close()
		select {
		case <-waited:
			return nil
		case <-time.After(quitGrace):
		}
		if err := cmd.Process.Kill(); err != nil {
			return err
		}
		<-waited
		return nil
	}

	e, err := newProcessEngine(ctx, p, stdout, stdin, closeFn, log)
	if err != nil {
		closeFn()
		return nil, err
	}
	log.Debug().Str("engine", p.Name).Int("pid", cmd.Process.Pid).Msg("engine process started")
	return e, nil
}

// newProcessEngine runs the UCI handshake over r/w and configures the engine.
func newProcessEngine(ctx context.Context, p Profile, r io.Reader, w io.Writer, closeFn func() error, log zerolog.Logger) (*processEngine, error) {
	p = p.withDefaults()
	e := &processEngine{
		name:    p.Name,
		log:     log.With().Str("engine", p.Name).Logger(),
		w:       bufio.NewWriter(w),
		lines:   make(chan string, 256),
		exited:  make(chan struct{}),
		done:    make(chan struct{}),
		closeFn: closeFn,
	}
	go e.readLoop(r)

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if err := e.send("uci"); err != nil {
		return nil, err
	}
	if err := e.waitFor(hctx, "uciok"); err != nil {
		return nil, fmt.Errorf("uci handshake: %w", err)
	}

	opts := []string{
		fmt.Sprintf("setoption name Threads value %d", p.Threads),
		fmt.Sprintf("setoption name Hash value %d", p.HashMB),
		fmt.Sprintf("setoption name MultiPV value %d", p.MultiPV),
	}
	keys := make([]string, 0, len(p.Options))
	for k := range p.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, fmt.Sprintf("setoption name %s value %s", k, p.Options[k]))
	}
	for _, o := range opts {
		if err := e.send(o); err != nil {
			return nil, err
		}
	}

	if err := e.send("isready"); err != nil {
		return nil, err
	}
	if err := e.waitFor(hctx, "readyok"); err != nil {
		return nil, fmt.Errorf("isready: %w", err)
	}
	return e, nil
}

func (e *processEngine) Name() string { return e.name }

func (e *processEngine) readLoop(r io.Reader) {
	defer close(e.exited)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		select {
		case e.lines <- sc.Text():
		case <-e.done:
			return
		}
	}
	if err := sc.Err(); err != nil {
		e.log.Debug().Err(err).Msg("engine output closed")
	}
}

func (e *processEngine) send(cmd string) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	if _, err := e.w.WriteString(cmd + "\n"); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineExited, err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineExited, err)
	}
	return nil
}

// next returns the next output line.
func (e *processEngine) next(ctx context.Context) (string, error) {
	select {
	case line := <-e.lines:
		return line, nil
	default:
	}
	select {
	case line := <-e.lines:
		return line, nil
	case <-e.exited:
		// drain anything buffered before the exit
		select {
		case line := <-e.lines:
			return line, nil
		default:
		}
		return "", ErrEngineExited
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *processEngine) waitFor(ctx context.Context, token string) error {
	for {
		line, err := e.next(ctx)
		if err != nil {
			return err
		}
		if strings.HasPrefix(line, token) {
			return nil
		}
	}
}

func goCommand(lim Limits) string {
	cmd := fmt.Sprintf("go depth %d", lim.Depth)
	if lim.MoveTime > 0 {
		cmd += fmt.Sprintf(" movetime %d", lim.MoveTime.Milliseconds())
	}
	return cmd
}

func (e *processEngine) Search(ctx context.Context, pos game.Position, lim Limits) ([]Line, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.broken {
		return nil, ErrEngineExited
	}
	if err := e.send("position fen " + string(pos)); err != nil {
		e.broken = true
		return nil, err
	}
	if err := e.send(goCommand(lim)); err != nil {
		e.broken = true
		return nil, err
	}

	col := newInfoCollector()
	for {
		line, err := e.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				e.stop()
				return nil, ctx.Err()
			}
			e.broken = true
			return nil, err
		}
		if strings.HasPrefix(line, "bestmove") {
			return col.lines(), nil
		}
		col.add(line)
	}
}

// stop interrupts the running search and discards output up to its bestmove.
// An engine that does not answer within stopGrace is marked broken.
func (e *processEngine) stop() {
	if err := e.send("stop"); err != nil {
		e.broken = true
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	if err := e.waitFor(ctx, "bestmove"); err != nil {
		e.log.Warn().Err(err).Msg("engine did not acknowledge stop")
		e.broken = true
	}
}

func (e *processEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		_ = e.send("quit")
		close(e.done)
		if e.closeFn != nil {
			err = e.closeFn()
		}
	})
	return err
}
