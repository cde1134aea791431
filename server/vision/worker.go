package vision

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"github.com/sproutcast/sproutcast/pkg/depthmap"
	"github.com/sproutcast/sproutcast/pkg/vegmetrics"
)

// Worker runs the Python vision helper as a child process and exposes it as an
// Engine. Requests are strictly serialized: the pipeline is a single worker,
// so there is never more than one request in flight.
type Worker struct {
	log    logs.Log
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	helloTimeout   time.Duration
	requestTimeout time.Duration

	depthAvailable bool

	reqLock sync.Mutex // one RPC at a time
	broken  atomic.Bool
	exited  chan struct{}
}

// WorkerOptions configures the helper process.
type WorkerOptions struct {
	// Command is the helper executable (eg "scripts/sproutvision.py"),
	// followed by its arguments.
	Command []string

	// HelloTimeout is how long we wait for the capability handshake after
	// starting the process. Model loading happens before the hello, so this
	// needs to be generous. Zero means 60s.
	HelloTimeout time.Duration

	// RequestTimeout bounds a single extract/depth request. Zero means 30s.
	RequestTimeout time.Duration
}

// StartWorker launches the helper and waits for its capability handshake.
func StartWorker(logger logs.Log, opt WorkerOptions) (*Worker, error) {
	if len(opt.Command) == 0 {
		return nil, fmt.Errorf("vision worker command is empty")
	}
	if opt.HelloTimeout == 0 {
		opt.HelloTimeout = 60 * time.Second
	}
	if opt.RequestTimeout == 0 {
		opt.RequestTimeout = 30 * time.Second
	}

	cmd := exec.Command(opt.Command[0], opt.Command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start vision helper %v: %w", opt.Command[0], err)
	}

	w := &Worker{
		log:            logs.NewPrefixLogger(logger, "vision"),
		cmd:            cmd,
		stdin:          stdin,
		stdout:         bufio.NewReaderSize(stdout, 1<<20),
		helloTimeout:   opt.HelloTimeout,
		requestTimeout: opt.RequestTimeout,
		exited:         make(chan struct{}),
	}
	go w.logStderr(stderr)
	go w.waitProcess()

	hello, err := w.readResponseTimeout(w.helloTimeout)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("vision helper handshake failed: %w", err)
	}
	if hello.Op != opHello {
		w.Close()
		return nil, fmt.Errorf("vision helper handshake failed: expected hello, got %q", hello.Op)
	}
	w.depthAvailable = hello.DepthAvailable
	w.log.Infof("Helper %v ready (depth available: %v)", hello.HelperVersion, hello.DepthAvailable)
	return w, nil
}

func (w *Worker) DepthAvailable() bool {
	return w.depthAvailable && !w.broken.Load()
}

func (w *Worker) ExtractScene(frame []byte) (*vegmetrics.SceneStats, error) {
	resp, err := w.rpc(opExtract, frame)
	if err != nil {
		return nil, err
	}
	if resp.Scene == nil {
		return nil, fmt.Errorf("vision helper returned no scene stats")
	}
	return resp.Scene, nil
}

func (w *Worker) EstimateDepth(frame []byte) (*depthmap.Map, error) {
	if !w.depthAvailable {
		return nil, ErrDepthUnavailable
	}
	resp, err := w.rpc(opDepth, frame)
	if err != nil {
		return nil, err
	}
	if resp.Depth == nil {
		return nil, fmt.Errorf("vision helper returned no depth map")
	}
	return depthmap.NewMap(resp.Depth.Width, resp.Depth.Height, resp.Depth.Values)
}

// Close terminates the helper. Closing stdin asks it to exit; if it hasn't
// after 2 seconds, we kill it.
func (w *Worker) Close() {
	w.broken.Store(true)
	w.stdin.Close()
	select {
	case <-w.exited:
	case <-time.After(2 * time.Second):
		w.log.Warnf("Helper did not exit, killing it")
		w.cmd.Process.Kill()
		<-w.exited
	}
}

func (w *Worker) rpc(op string, frame []byte) (*responseEnvelope, error) {
	if w.broken.Load() {
		return nil, fmt.Errorf("vision helper is down")
	}
	w.reqLock.Lock()
	defer w.reqLock.Unlock()

	req := requestEnvelope{
		ID:    uuid.NewString(),
		Op:    op,
		Frame: frame,
	}
	if err := writeEnvelope(w.stdin, &req); err != nil {
		w.broken.Store(true)
		return nil, fmt.Errorf("write to vision helper: %w", err)
	}
	resp, err := w.readResponseTimeout(w.requestTimeout)
	if err != nil {
		// A timed-out helper leaves the stream in an unknown state, so we
		// consider the whole engine dead rather than resynchronize.
		w.broken.Store(true)
		return nil, err
	}
	if resp.ID != req.ID {
		w.broken.Store(true)
		return nil, fmt.Errorf("vision helper response ID mismatch (got %v, want %v)", resp.ID, req.ID)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("vision helper %v failed: %v", op, resp.Error)
	}
	return resp, nil
}

func (w *Worker) readResponseTimeout(timeout time.Duration) (*responseEnvelope, error) {
	type result struct {
		resp *responseEnvelope
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp := &responseEnvelope{}
		err := readEnvelope(w.stdout, resp)
		done <- result{resp, err}
	}()
	select {
	case r := <-done:
		return r.resp, r.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("vision helper timed out after %v", timeout)
	}
}

// logStderr forwards the helper's stderr into our log, mapping the Python
// logging prefixes onto our levels.
func (w *Worker) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "ERROR") || strings.Contains(line, "CRITICAL"):
			w.log.Errorf("helper: %v", line)
		case strings.Contains(line, "WARNING"):
			w.log.Warnf("helper: %v", line)
		default:
			w.log.Debugf("helper: %v", line)
		}
	}
}

func (w *Worker) waitProcess() {
	err := w.cmd.Wait()
	if err != nil && !w.broken.Load() {
		w.log.Errorf("Helper exited unexpectedly: %v", err)
	}
	w.broken.Store(true)
	close(w.exited)
}
