package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrProcessFailed marks a pipeline stage that exited non-zero or could
	// not run to completion.
	ErrProcessFailed = errors.New("pipeline process failed")

	errNotStarted = errors.New("pipeline not started")
)

// waitDelay bounds how long Wait blocks on I/O after a stage was killed.
const waitDelay = 10 * time.Second

// Stage is one step of a pipeline. Exactly one of Command, Args or Transform
// is set.
type Stage struct {
	Name string
	// Command is run through `sh -c`, so it may carry redirects and pipes.
	Command string
	Args    []string
	Env     []string
	// Transform runs in-process, copying src to dst.
	Transform func(dst io.Writer, src io.Reader) error
}

// ShellStage returns a stage running command through the shell.
func ShellStage(name, command string) Stage {
	return Stage{Name: name, Command: command}
}

func (s Stage) command(ctx context.Context) *exec.Cmd {
	var cmd *exec.Cmd
	if s.Command != "" {
		cmd = exec.CommandContext(ctx, "sh", "-c", s.Command)
	} else {
		cmd = exec.CommandContext(ctx, s.Args[0], s.Args[1:]...)
	}
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}

	// Kill the whole process group so shell pipelines inside a stage die too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

// Pipeline chains stages stdout -> stdin. It is started once and must be
// closed once; Close terminates every stage that is still running.
type Pipeline struct {
	stages []Stage

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	errs    []error
	files   []*os.File
	started bool
	closed  bool
	done    chan struct{}
}

func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, done: make(chan struct{})}
}

// Stages returns the configured stages.
func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// StartSource starts the pipeline with no input and returns the final stage's
// standard output.
func (p *Pipeline) StartSource(ctx context.Context) (io.Reader, error) {
	return p.start(ctx, nil, true)
}

// StartSink starts the pipeline feeding stdin into the first stage. The final
// stage's output is discarded.
func (p *Pipeline) StartSink(ctx context.Context, stdin io.Reader) error {
	_, err := p.start(ctx, stdin, false)
	return err
}

func (p *Pipeline) start(ctx context.Context, stdin io.Reader, wantOutput bool) (io.Reader, error) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil, fmt.Errorf("pipeline already started")
	}
	p.started = true
	p.mu.Unlock()

	if len(p.stages) == 0 {
		close(p.done)
		return nil, fmt.Errorf("pipeline has no stages")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	var in io.Reader = stdin
	var output io.Reader
	for i, stage := range p.stages {
		last := i == len(p.stages)-1

		var pr, pw *os.File
		if !last || wantOutput {
			var err error
			pr, pw, err = os.Pipe()
			if err != nil {
				p.abort()
				return nil, fmt.Errorf("failed to create pipe: %w", err)
			}
			p.track(pr)
		}

		if stage.Transform != nil {
			p.runTransform(stage, in, pw)
		} else if err := p.runCommand(ctx, stage, in, pw); err != nil {
			p.abort()
			return nil, err
		}

		in = pr
		if last {
			output = pr
		}
	}

	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	slog.Debug("Pipeline started", "stages", len(p.stages))
	return output, nil
}

func (p *Pipeline) runCommand(ctx context.Context, stage Stage, in io.Reader, pw *os.File) error {
	cmd := stage.command(ctx)
	cmd.Stdin = in
	if pw != nil {
		cmd.Stdout = pw
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		if pw != nil {
			pw.Close()
		}
		slog.Error("Failed to start pipeline stage", "stage", stage.Name, "error", err)
		return fmt.Errorf("%w: failed to start %s: %w", ErrProcessFailed, stage.Name, err)
	}
	slog.Debug("Pipeline stage started", "stage", stage.Name, "pid", cmd.Process.Pid)

	// The child holds its own copies now; drop ours so EOF propagates.
	if pw != nil {
		pw.Close()
	}
	if f, ok := in.(*os.File); ok {
		p.untrack(f)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := cmd.Wait(); err != nil {
			msg := bytes.TrimSpace(stderr.Bytes())
			slog.Error("Pipeline stage failed", "stage", stage.Name, "error", err, "stderr", string(msg))
			if len(msg) > 0 {
				p.fail(fmt.Errorf("%w: %s: %w: %s", ErrProcessFailed, stage.Name, err, msg))
			} else {
				p.fail(fmt.Errorf("%w: %s: %w", ErrProcessFailed, stage.Name, err))
			}
		}
	}()
	return nil
}

func (p *Pipeline) runTransform(stage Stage, in io.Reader, pw *os.File) {
	var out io.Writer = io.Discard
	if pw != nil {
		out = pw
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := stage.Transform(out, in)
		if pw != nil {
			pw.Close()
		}
		// Unblock an upstream writer that would otherwise wait on a full pipe.
		if f, ok := in.(*os.File); ok {
			p.untrack(f)
		}
		if err != nil {
			slog.Error("Pipeline stage failed", "stage", stage.Name, "error", err)
			p.fail(fmt.Errorf("%w: %s: %w", ErrProcessFailed, stage.Name, err))
		}
	}()
}

func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
}

func (p *Pipeline) track(f *os.File) {
	p.mu.Lock()
	p.files = append(p.files, f)
	p.mu.Unlock()
}

// untrack closes f and forgets it.
func (p *Pipeline) untrack(f *os.File) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, tracked := range p.files {
		if tracked == f {
			p.files = append(p.files[:i], p.files[i+1:]...)
			f.Close()
			return
		}
	}
}

// abort tears down a partially started pipeline.
func (p *Pipeline) abort() {
	if p.cancel != nil {
		p.cancel()
	}
	p.closeFiles()
	p.wg.Wait()
	close(p.done)
}

func (p *Pipeline) closeFiles() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.files {
		f.Close()
	}
	p.files = nil
}

// Wait blocks until every stage has exited and reports their combined
// health. The output of a source pipeline must be drained first.
func (p *Pipeline) Wait() error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return errNotStarted
	}

	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}

// Close kills any stage still running, releases pipe descriptors and waits
// for every stage to exit. It is safe to call more than once.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed || !p.started {
		p.closed = true
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	select {
	case <-p.done:
	default:
		slog.Warn("Terminating running pipeline")
	}

	if p.cancel != nil {
		p.cancel()
	}
	p.closeFiles()
	<-p.done
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(b), nil
}

func (t *tailBuffer) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.buf...)
}
