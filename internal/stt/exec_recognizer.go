package stt

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-relay/internal/config"
	"github.com/loqalabs/loqa-relay/internal/fault"
	"github.com/mattn/go-shellwords"
)

// execRecognizer keeps a fixed pool of long-lived recognizer processes. Each
// process loads the model once and serves one NDJSON request at a time:
//
//	-> {"audio":"/tmp/x.webm","language":"ar","vad_filter":true,"beam_size":5}
//	<- {"segments":[{"start":0,"end":1.2,"text":"..."}],"language":"ar","duration":1.2}
//	<- {"error":"...","kind":"bad_input"}
//
// A process announces readiness with {"ready":true} after loading the model.
// scripts/faster_whisper_worker.py implements this protocol.
type execRecognizer struct {
	argv    []string
	startup time.Duration
	logger  *slog.Logger
	slots   chan *workerSlot
	size    int

	closeOnce sync.Once
}

type workerSlot struct {
	id   int
	proc *workerProcess
}

type workerProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

type workerRequest struct {
	Audio     string `json:"audio"`
	Language  string `json:"language"`
	VADFilter bool   `json:"vad_filter"`
	BeamSize  int    `json:"beam_size"`
}

type workerResponse struct {
	Ready    bool      `json:"ready,omitempty"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Error    string    `json:"error,omitempty"`
	Kind     string    `json:"kind,omitempty"`
}

// NewExecRecognizer parses the worker command and starts cfg.Workers
// processes, waiting for each to load its model.
func NewExecRecognizer(cfg config.STTConfig, logger *slog.Logger) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	args = append(args,
		"--model", cfg.ModelSize,
		"--device", cfg.Device,
		"--compute-type", cfg.ComputeType,
	)
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	r := &execRecognizer{
		argv:    args,
		startup: time.Duration(cfg.StartupTimeoutMS) * time.Millisecond,
		logger:  logger.With(slog.String("component", "stt-worker")),
		slots:   make(chan *workerSlot, workers),
		size:    workers,
	}
	for i := 0; i < workers; i++ {
		proc, err := r.spawn()
		if err != nil {
			for len(r.slots) > 0 {
				(<-r.slots).proc.stop()
			}
			return nil, fmt.Errorf("start stt worker %d: %w", i, err)
		}
		r.slots <- &workerSlot{id: i, proc: proc}
	}
	r.logger.Info("stt workers ready",
		slog.Int("workers", workers),
		slog.String("model", cfg.ModelSize),
		slog.String("device", cfg.Device),
		slog.String("compute_type", cfg.ComputeType))
	return r, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, path string, opts Options) (Result, error) {
	var slot *workerSlot
	select {
	case slot = <-r.slots:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	if slot == nil {
		return Result{}, fault.Internal(errors.New("stt workers closed"))
	}
	defer func() { r.slots <- slot }()

	if slot.proc == nil {
		proc, err := r.spawn()
		if err != nil {
			return Result{}, fault.Internal(fmt.Errorf("restart stt worker %d: %w", slot.id, err))
		}
		r.logger.Info("stt worker restarted", slog.Int("worker", slot.id))
		slot.proc = proc
	}

	resp, err := slot.proc.roundTrip(ctx, workerRequest{
		Audio:     path,
		Language:  opts.Language,
		VADFilter: opts.VADFilter,
		BeamSize:  opts.BeamSize,
	})
	if err != nil {
		r.logger.Warn("stt worker broken", slog.Int("worker", slot.id), slogError(err))
		slot.proc.stop()
		slot.proc = nil
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fault.Internal(err)
	}
	if resp.Error != "" {
		werr := fmt.Errorf("stt worker: %s", resp.Error)
		if resp.Kind == string(fault.KindBadInput) {
			return Result{}, fault.BadInput(werr)
		}
		return Result{}, fault.Internal(werr)
	}
	return Result{Segments: resp.Segments, Language: resp.Language, Duration: resp.Duration}, nil
}

// Close stops every worker, waiting for in-flight requests to finish.
// Calls made after Close fail immediately.
func (r *execRecognizer) Close() error {
	r.closeOnce.Do(func() {
		for i := 0; i < r.size; i++ {
			slot := <-r.slots
			if slot != nil && slot.proc != nil {
				slot.proc.stop()
			}
		}
		close(r.slots)
	})
	return nil
}

func (r *execRecognizer) spawn() (*workerProcess, error) {
	cmd := exec.Command(r.argv[0], r.argv[1:]...)
	cmd.Stderr = &logWriter{logger: r.logger}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	proc := &workerProcess{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}

	ctx := context.Background()
	if r.startup > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.startup)
		defer cancel()
	}
	resp, err := proc.readResponse(ctx)
	if err != nil {
		proc.stop()
		return nil, fmt.Errorf("await ready: %w", err)
	}
	if !resp.Ready {
		proc.stop()
		if resp.Error != "" {
			return nil, fmt.Errorf("worker failed to load model: %s", resp.Error)
		}
		return nil, errors.New("worker did not report ready")
	}
	return proc, nil
}

func (p *workerProcess) roundTrip(ctx context.Context, req workerRequest) (workerResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return workerResponse{}, err
	}
	data = append(data, '\n')
	if _, err := p.stdin.Write(data); err != nil {
		return workerResponse{}, fmt.Errorf("write stt request: %w", err)
	}
	return p.readResponse(ctx)
}

// readResponse waits for one response line. On cancellation the process is
// killed so the blocked read returns.
func (p *workerProcess) readResponse(ctx context.Context) (workerResponse, error) {
	type lineResult struct {
		line []byte
		err  error
	}
	done := make(chan lineResult, 1)
	go func() {
		line, err := p.stdout.ReadBytes('\n')
		done <- lineResult{line: line, err: err}
	}()

	var res lineResult
	select {
	case res = <-done:
	case <-ctx.Done():
		p.kill()
		<-done
		return workerResponse{}, ctx.Err()
	}
	if res.err != nil {
		if errors.Is(res.err, io.EOF) {
			return workerResponse{}, errors.New("stt worker exited")
		}
		return workerResponse{}, fmt.Errorf("read stt response: %w", res.err)
	}
	var resp workerResponse
	if err := json.Unmarshal(res.line, &resp); err != nil {
		return workerResponse{}, fmt.Errorf("decode stt response: %w", err)
	}
	return resp, nil
}

func (p *workerProcess) kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func (p *workerProcess) stop() {
	_ = p.stdin.Close()
	done := make(chan struct{})
	go func() {
		_ = p.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.kill()
		<-done
	}
}

// logWriter forwards worker stderr (model download progress and the like) to
// the structured log.
type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			w.logger.Debug("stt worker output", slog.String("line", line))
		}
	}
	return len(p), nil
}
