package predictor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cratedig/internal/logging"
	"cratedig/internal/services"
)

// Features is one file's extraction result: the model input vector plus
// the audio metadata recorded in the index.
type Features struct {
	Vector           []float64
	DurationSec      float64
	RMSDB            float64
	SpectralCentroid float64
	SpectralRolloff  float64
}

// Config describes how to reach the predictor.
type Config struct {
	Command        []string
	StartupTimeout time.Duration
	RequestTimeout time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger attaches a logger for subprocess stderr and lifecycle
// events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logging.NewComponentLogger(logger, "predictor")
		}
	}
}

// Client owns the predictor subprocess. Safe for concurrent use; calls
// serialize on the wire, one request at a time.
type Client struct {
	argv           []string
	startupTimeout time.Duration
	requestTimeout time.Duration
	exec           Executor
	logger         *slog.Logger

	mu        sync.Mutex
	proc      Process
	stdin     io.Writer
	stdout    *bufio.Reader
	nextID    int64
	model     string
	outputDim int
	starts    int
}

// New constructs a client. The command is the full argv; its first
// element is the binary.
func New(cfg Config, opts ...Option) (*Client, error) {
	if len(cfg.Command) == 0 || strings.TrimSpace(cfg.Command[0]) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "predictor", "new", "predictor command required", nil)
	}
	c := &Client{
		argv:           cfg.Command,
		startupTimeout: cfg.StartupTimeout,
		requestTimeout: cfg.RequestTimeout,
		exec:           commandExecutor{},
		logger:         logging.NewNop(),
	}
	if c.startupTimeout <= 0 {
		c.startupTimeout = 60 * time.Second
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = 120 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start launches the subprocess and performs the hello handshake.
// Calling Start on a live client is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureStartedLocked(ctx)
}

// Model returns the model identifier reported by hello.
func (c *Client) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// OutputDim returns the probability vector length reported by hello.
func (c *Client) OutputDim() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputDim
}

// Starts returns how many times a subprocess has been launched.
func (c *Client) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

// Extract asks the predictor for one file's feature vector and audio
// metadata.
func (c *Client) Extract(ctx context.Context, path string) (Features, error) {
	resp, err := c.roundTrip(ctx, request{Op: opExtract, Path: path})
	if err != nil {
		return Features{}, err
	}
	if len(resp.Features) == 0 {
		return Features{}, services.Wrap(services.ErrExternalTool, "predictor", "extract", "empty feature vector for "+path, nil)
	}
	return Features{
		Vector:           resp.Features,
		DurationSec:      resp.DurationSec,
		RMSDB:            resp.RMSDB,
		SpectralCentroid: resp.SpectralCentroid,
		SpectralRolloff:  resp.SpectralRolloff,
	}, nil
}

// Predict classifies a batch of feature vectors, returning one
// probability vector per input in order.
func (c *Client) Predict(ctx context.Context, batch [][]float64) ([][]float64, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	resp, err := c.roundTrip(ctx, request{Op: opPredict, Features: batch})
	if err != nil {
		return nil, err
	}
	if len(resp.Probs) != len(batch) {
		return nil, services.Wrap(services.ErrExternalTool, "predictor", "predict",
			fmt.Sprintf("predictor returned %d probability vectors for %d inputs", len(resp.Probs), len(batch)), nil)
	}
	return resp.Probs, nil
}

// Close shuts the subprocess down, first politely by closing stdin,
// then by force.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == nil {
		return nil
	}

	proc := c.proc
	c.proc = nil
	c.stdin = nil
	c.stdout = nil

	_ = proc.CloseStdin()
	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			c.logger.Debug("predictor exited uncleanly", logging.Error(err))
		}
	case <-time.After(2 * time.Second):
		_ = proc.Kill()
		<-done
	}
	return nil
}

// Wire protocol.
const (
	opHello   = "hello"
	opExtract = "extract"
	opPredict = "predict"
)

type request struct {
	ID       int64       `json:"id"`
	Op       string      `json:"op"`
	Path     string      `json:"path,omitempty"`
	Features [][]float64 `json:"features,omitempty"`
}

type response struct {
	ID               int64       `json:"id"`
	OK               bool        `json:"ok"`
	Error            string      `json:"error,omitempty"`
	Model            string      `json:"model,omitempty"`
	OutputDim        int         `json:"output_dim,omitempty"`
	Features         []float64   `json:"features,omitempty"`
	DurationSec      float64     `json:"duration_sec,omitempty"`
	RMSDB            float64     `json:"rms_db,omitempty"`
	SpectralCentroid float64     `json:"spectral_centroid,omitempty"`
	SpectralRolloff  float64     `json:"spectral_rolloff,omitempty"`
	Probs            [][]float64 `json:"probs,omitempty"`
}

func (c *Client) roundTrip(ctx context.Context, req request) (response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureStartedLocked(ctx); err != nil {
		return response{}, err
	}
	return c.exchangeLocked(ctx, req, c.requestTimeout)
}

// ensureStartedLocked launches the subprocess and handshakes when no
// live process exists. Callers hold c.mu.
func (c *Client) ensureStartedLocked(ctx context.Context) error {
	if c.proc != nil {
		return nil
	}

	proc, err := c.exec.Start(ctx, c.argv)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "predictor", "start", "launch predictor command", err)
	}
	c.proc = proc
	c.stdin = proc.Stdin()
	c.stdout = bufio.NewReaderSize(proc.Stdout(), 1024*1024)
	c.starts++
	go c.drainStderr(proc.Stderr())

	resp, err := c.exchangeLocked(ctx, request{Op: opHello}, c.startupTimeout)
	if err != nil {
		return fmt.Errorf("hello handshake: %w", err)
	}
	if resp.OutputDim <= 0 {
		c.killLocked()
		return services.Wrap(services.ErrExternalTool, "predictor", "hello",
			fmt.Sprintf("predictor reported output_dim %d", resp.OutputDim), nil)
	}
	c.model = resp.Model
	c.outputDim = resp.OutputDim

	c.logger.Info("predictor ready",
		logging.String("model", c.model),
		logging.Int("output_dim", c.outputDim))
	return nil
}

// exchangeLocked performs one request/response exchange. Callers hold
// c.mu. Timeouts and protocol violations kill the subprocess so the
// next request starts clean.
func (c *Client) exchangeLocked(ctx context.Context, req request, timeout time.Duration) (response, error) {
	c.nextID++
	req.ID = c.nextID

	payload, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("marshal %s request: %w", req.Op, err)
	}
	payload = append(payload, '\n')
	if _, err := c.stdin.Write(payload); err != nil {
		c.killLocked()
		return response{}, services.Wrap(services.ErrExternalTool, "predictor", req.Op, "write to predictor", err)
	}

	type readResult struct {
		line []byte
		err  error
	}
	lines := make(chan readResult, 1)
	stdout := c.stdout
	go func() {
		line, err := stdout.ReadBytes('\n')
		lines <- readResult{line: line, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result readResult
	select {
	case result = <-lines:
	case <-timer.C:
		c.killLocked()
		return response{}, services.Wrap(services.ErrTimeout, "predictor", req.Op,
			fmt.Sprintf("no response within %s", timeout), nil)
	case <-ctx.Done():
		c.killLocked()
		return response{}, ctx.Err()
	}

	if result.err != nil {
		c.killLocked()
		return response{}, services.Wrap(services.ErrExternalTool, "predictor", req.Op, "predictor closed its stdout", result.err)
	}

	var resp response
	if err := json.Unmarshal(result.line, &resp); err != nil {
		c.killLocked()
		return response{}, services.Wrap(services.ErrExternalTool, "predictor", req.Op, "malformed predictor response", err)
	}
	if resp.ID != req.ID {
		c.killLocked()
		return response{}, services.Wrap(services.ErrExternalTool, "predictor", req.Op,
			fmt.Sprintf("response id %d does not match request id %d", resp.ID, req.ID), nil)
	}
	if !resp.OK {
		msg := resp.Error
		if msg == "" {
			msg = "predictor reported failure"
		}
		return response{}, services.Wrap(services.ErrExternalTool, "predictor", req.Op, msg, nil)
	}
	return resp, nil
}

// killLocked tears the subprocess down after a fault. Callers hold
// c.mu.
func (c *Client) killLocked() {
	if c.proc == nil {
		return
	}
	proc := c.proc
	c.proc = nil
	c.stdin = nil
	c.stdout = nil
	_ = proc.Kill()
	_ = proc.Wait()
	c.logger.Warn("predictor process terminated; will restart on next request")
}

func (c *Client) drainStderr(r io.Reader) {
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.logger.Debug("predictor output", logging.String("line", line))
	}
}

