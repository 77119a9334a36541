package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// RestoreRunner feeds a downloaded artifact through decrypt, decompress and
// the strategy's sink command, then runs any post-restore commands.
type RestoreRunner struct {
	typ      string
	location string
	zipped   bool
	pipeline *Pipeline
	post     []Stage
}

// NewRestore builds a RestoreRunner writing into location with command as the
// sink stage. post commands run in order once the sink has succeeded.
func NewRestore(typ, location, command string, post []string, opts Options) (*RestoreRunner, error) {
	var stages []Stage
	if opts.encrypted() {
		dec, err := opts.decryptStage()
		if err != nil {
			return nil, err
		}
		stages = append(stages, dec)
	}
	if opts.Compress {
		stages = append(stages, opts.decompressStage())
	}
	sink := ShellStage(typ, command)
	sink.Env = opts.Env
	stages = append(stages, sink)

	var postStages []Stage
	for i, c := range post {
		stage := ShellStage(fmt.Sprintf("%s-post-%d", typ, i), c)
		stage.Env = opts.Env
		postStages = append(postStages, stage)
	}

	return &RestoreRunner{
		typ:      typ,
		location: location,
		zipped:   opts.Compress,
		pipeline: NewPipeline(stages...),
		post:     postStages,
	}, nil
}

func (r *RestoreRunner) Type() string { return r.typ }

// Location is the directory the restore writes into.
func (r *RestoreRunner) Location() string { return r.location }

// IsZipped reports whether the pipeline expects a gzip stream.
func (r *RestoreRunner) IsZipped() bool { return r.zipped }

// Stages exposes the pipeline for inspection.
func (r *RestoreRunner) Stages() []Stage { return r.pipeline.Stages() }

// Restore streams src into the pipeline until src is exhausted and returns
// the number of bytes consumed. Errors reading src are returned unwrapped of
// any process failure they caused downstream.
func (r *RestoreRunner) Restore(ctx context.Context, src io.Reader) (int64, error) {
	in := &recordingReader{r: src}

	if err := r.pipeline.StartSink(ctx, in); err != nil {
		return 0, err
	}
	defer r.pipeline.Close()

	slog.Info("Restore runner started", "type", r.typ, "location", r.location)
	waitErr := r.pipeline.Wait()

	if err := in.Err(); err != nil {
		return in.Count(), err
	}
	if waitErr != nil {
		return in.Count(), waitErr
	}

	for _, stage := range r.post {
		p := NewPipeline(stage)
		if err := p.StartSink(ctx, nil); err != nil {
			return in.Count(), err
		}
		err := p.Wait()
		p.Close()
		if err != nil {
			return in.Count(), fmt.Errorf("post-restore command failed: %w", err)
		}
		slog.Info("Post-restore command completed", "stage", stage.Name)
	}

	return in.Count(), nil
}

// recordingReader counts bytes and remembers the first read error other
// than io.EOF.
type recordingReader struct {
	r io.Reader

	mu  sync.Mutex
	n   int64
	err error
}

func (c *recordingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)

	c.mu.Lock()
	c.n += int64(n)
	if err != nil && !errors.Is(err, io.EOF) && c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	return n, err
}

func (c *recordingReader) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *recordingReader) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
