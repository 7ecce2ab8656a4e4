package rlang

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"rbridge/errors"
	"rbridge/logging"
	"rbridge/runtime"
)

// EndOfOutputMarker prefixes the line R prints when a reply is complete
const EndOfOutputMarker = "<<<RBRIDGE-END:"

//go:embed prelude.R
var prelude string

// Options configures the R process
type Options struct {
	Binary         string
	Args           []string
	WorkDir        string
	LibraryPath    string
	StartupTimeout time.Duration
	Verbose        bool
}

// DefaultOptions returns options for a vanilla, quiet R on PATH
func DefaultOptions() Options {
	return Options{
		Binary:         "R",
		Args:           []string{"--vanilla", "--quiet", "--no-echo"},
		StartupTimeout: 60 * time.Second,
	}
}

// RRuntime is the Session backed by a persistent R process driven over
// its standard streams.
type RRuntime struct {
	opts   Options
	logger logging.Logger

	// processMutex serializes every exchange with the R process and
	// guards the process fields below.
	processMutex sync.Mutex
	ready        bool
	generation   int
	version      string
	workDir      string
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	resultChan   chan string
	exitChan     chan error
	stderrTail   *tailBuffer
	devicePath   string

	liveMutex sync.Mutex
	live      map[string]runtime.Handle

	handleSeq int64
	execSeq   int64
}

var _ runtime.Session = (*RRuntime)(nil)

// NewRRuntime creates an R session. The process is started lazily by
// EnsureInitialized.
func NewRRuntime(opts Options, logger logging.Logger) *RRuntime {
	if opts.Binary == "" {
		opts.Binary = "R"
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RRuntime{
		opts:   opts,
		logger: logger.WithComponent("session").WithLanguage(errors.LanguageR),
		live:   make(map[string]runtime.Handle),
	}
}

// EnsureInitialized starts R and loads the prelude. It is a no-op while
// the process is alive, and restarts it after a crash or timeout kill.
func (rr *RRuntime) EnsureInitialized(ctx context.Context) error {
	rr.processMutex.Lock()
	defer rr.processMutex.Unlock()

	if rr.ready {
		return nil
	}

	if err := rr.checkRAvailability(); err != nil {
		return errors.NewInitializationError(err.Error(), err)
	}

	start := time.Now()
	if err := rr.startPersistentProcess(); err != nil {
		return errors.NewInitializationError(fmt.Sprintf("failed to start R: %v", err), err)
	}

	bootCtx, cancel := context.WithTimeout(ctx, rr.opts.StartupTimeout)
	defer cancel()

	version, err := rr.loadPrelude(bootCtx)
	if err != nil {
		rr.killLocked("prelude failed")
		return errors.NewInitializationError(fmt.Sprintf("failed to initialize R session: %v", err), err)
	}

	rr.version = version
	rr.ready = true
	rr.logger.Info("R session started",
		logging.StringField("version", version),
		logging.IntField("generation", rr.generation),
		logging.DurationField("startup", time.Since(start)))
	return nil
}

// checkRAvailability makes sure the configured binary can be found
func (rr *RRuntime) checkRAvailability() error {
	if _, err := exec.LookPath(rr.opts.Binary); err != nil {
		return fmt.Errorf("R executable %q not found: %w", rr.opts.Binary, err)
	}
	return nil
}

// startPersistentProcess starts R with piped standard streams
func (rr *RRuntime) startPersistentProcess() error {
	workDir, err := os.MkdirTemp(rr.opts.WorkDir, "rbridge-")
	if err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}

	cmd := exec.Command(rr.opts.Binary, rr.opts.Args...)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	if rr.opts.LibraryPath != "" {
		cmd.Env = append(cmd.Env, "R_LIBS_USER="+rr.opts.LibraryPath)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(workDir)
		return fmt.Errorf("failed to start persistent R process: %w", err)
	}

	rr.generation++
	rr.workDir = workDir
	rr.cmd = cmd
	rr.stdin = stdin
	rr.resultChan = make(chan string, 16)
	rr.exitChan = make(chan error, 1)
	rr.stderrTail = newTailBuffer(8192)
	rr.resetLive()

	resultChan, tail := rr.resultChan, rr.stderrTail
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		rr.readOutput(stdout, resultChan)
	}()
	go func() {
		defer readers.Done()
		rr.readError(stderr, tail)
	}()
	go func(cmd *exec.Cmd, exitChan chan<- error) {
		readers.Wait()
		exitChan <- cmd.Wait()
	}(cmd, rr.exitChan)

	return nil
}

// loadPrelude sources the bridge helpers and returns the R version
func (rr *RRuntime) loadPrelude(ctx context.Context) (string, error) {
	path := filepath.Join(rr.workDir, "prelude.R")
	if err := os.WriteFile(path, []byte(prelude), 0600); err != nil {
		return "", fmt.Errorf("failed to write prelude: %w", err)
	}
	if _, err := fmt.Fprintf(rr.stdin, "source(%s, encoding = \"UTF-8\")\n", QuoteString(path)); err != nil {
		return "", fmt.Errorf("failed to write to R stdin: %w", err)
	}

	rep, err := rr.sendAndAwait(ctx, rr.newRequest(), Call("info"))
	if err != nil {
		return "", err
	}
	if gerr := rep.guestError(); gerr != nil {
		return "", gerr
	}
	return rep.get("version"), nil
}

// Version returns the R version string reported at startup
func (rr *RRuntime) Version(ctx context.Context) (string, error) {
	if err := rr.EnsureInitialized(ctx); err != nil {
		return "", err
	}
	rr.processMutex.Lock()
	defer rr.processMutex.Unlock()
	return rr.version, nil
}

// IsReady reports whether the R process is up
func (rr *RRuntime) IsReady() bool {
	rr.processMutex.Lock()
	defer rr.processMutex.Unlock()
	return rr.ready
}

// Generation counts process starts. Handles from older generations are
// void.
func (rr *RRuntime) Generation() int {
	rr.processMutex.Lock()
	defer rr.processMutex.Unlock()
	return rr.generation
}

// LiveHandles returns how many handles have been created and not destroyed
func (rr *RRuntime) LiveHandles() int {
	rr.liveMutex.Lock()
	defer rr.liveMutex.Unlock()
	return len(rr.live)
}

// Close shuts R down and removes the work directory
func (rr *RRuntime) Close() error {
	rr.processMutex.Lock()
	defer rr.processMutex.Unlock()

	if rr.cmd == nil {
		return nil
	}

	if rr.stdin != nil {
		_, _ = io.WriteString(rr.stdin, "quit(save = \"no\")\n")
		_ = rr.stdin.Close()
	}

	select {
	case <-rr.exitChan:
	case <-time.After(3 * time.Second):
		if rr.cmd.Process != nil {
			_ = rr.cmd.Process.Kill()
		}
	}

	rr.cleanupLocked()
	rr.logger.Info("R session closed")
	return nil
}

// killLocked terminates the process after a timeout or protocol failure.
// The next EnsureInitialized starts a fresh generation.
func (rr *RRuntime) killLocked(reason string) {
	if rr.cmd != nil && rr.cmd.Process != nil {
		_ = rr.cmd.Process.Kill()
	}
	if rr.stdin != nil {
		_ = rr.stdin.Close()
	}
	rr.logger.Warn("R process killed", logging.StringField("reason", reason))
	rr.cleanupLocked()
}

func (rr *RRuntime) cleanupLocked() {
	if rr.workDir != "" {
		_ = os.RemoveAll(rr.workDir)
	}
	rr.cmd = nil
	rr.stdin = nil
	rr.workDir = ""
	rr.devicePath = ""
	rr.ready = false
	rr.resetLive()
}

// newHandle allocates a handle id for the current generation. Must not be
// called with processMutex held.
func (rr *RRuntime) newHandle(kind runtime.HandleKind) runtime.Handle {
	h := runtime.Handle{
		ID:         fmt.Sprintf("h%d", atomic.AddInt64(&rr.handleSeq, 1)),
		Kind:       kind,
		Generation: rr.Generation(),
	}
	rr.liveMutex.Lock()
	rr.live[h.ID] = h
	rr.liveMutex.Unlock()
	return h
}

func (rr *RRuntime) forgetHandle(h runtime.Handle) {
	rr.liveMutex.Lock()
	delete(rr.live, h.ID)
	rr.liveMutex.Unlock()
}

func (rr *RRuntime) resetLive() {
	rr.liveMutex.Lock()
	rr.live = make(map[string]runtime.Handle)
	rr.liveMutex.Unlock()
}
