// Package runner exposes external database tooling as byte streams: a
// Runner reads a backup out of a `source | compress | encrypt` pipeline and a
// RestoreRunner feeds a restore through `decrypt | decompress | sink`.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"dbrb/internal/crypto"
)

// Cipher selects the encryption stage of a pipeline.
type Cipher string

const (
	CipherNone    Cipher = "none"
	CipherOpenSSL Cipher = "openssl"
	CipherAge     Cipher = "age"
)

const (
	ZipSuffix     = ".gz"
	OpenSSLSuffix = ".enc"

	passphraseEnv = "DBRB_PASSPHRASE"
)

// Options controls the compression and encryption stages around a strategy
// command.
type Options struct {
	Compress   bool
	Cipher     Cipher
	Passphrase string
	// WorkFactor is the age scrypt work factor, zero for the default.
	WorkFactor int
	// Env is added to the environment of the strategy's own commands, for
	// credentials that must stay off the command line.
	Env []string
}

// Suffix returns the artifact suffix the stages add.
func (o Options) Suffix() string {
	var s string
	if o.Compress {
		s += ZipSuffix
	}
	switch o.Cipher {
	case CipherOpenSSL:
		s += OpenSSLSuffix
	case CipherAge:
		s += crypto.Suffix
	}
	return s
}

func (o Options) compressStage() Stage {
	return Stage{Name: "gzip", Args: []string{"gzip", "-c"}}
}

func (o Options) decompressStage() Stage {
	return Stage{Name: "gunzip", Args: []string{"gzip", "-d", "-c"}}
}

func (o Options) encryptStage() (Stage, error) {
	switch o.Cipher {
	case CipherOpenSSL:
		return Stage{
			Name: "openssl",
			Args: []string{"openssl", "enc", "-aes-256-cbc", "-salt", "-pass", "env:" + passphraseEnv},
			Env:  []string{passphraseEnv + "=" + o.Passphrase},
		}, nil
	case CipherAge:
		p, err := crypto.NewPassphrase(o.Passphrase, o.WorkFactor)
		if err != nil {
			return Stage{}, err
		}
		return Stage{Name: "age", Transform: p.Encrypt}, nil
	}
	return Stage{}, fmt.Errorf("unsupported cipher: %s", o.Cipher)
}

func (o Options) decryptStage() (Stage, error) {
	switch o.Cipher {
	case CipherOpenSSL:
		return Stage{
			Name: "openssl",
			Args: []string{"openssl", "enc", "-d", "-aes-256-cbc", "-salt", "-pass", "env:" + passphraseEnv},
			Env:  []string{passphraseEnv + "=" + o.Passphrase},
		}, nil
	case CipherAge:
		p, err := crypto.NewPassphrase(o.Passphrase, o.WorkFactor)
		if err != nil {
			return Stage{}, err
		}
		return Stage{Name: "age", Transform: p.Decrypt}, nil
	}
	return Stage{}, fmt.Errorf("unsupported cipher: %s", o.Cipher)
}

func (o Options) encrypted() bool {
	return o.Cipher != "" && o.Cipher != CipherNone
}

// Runner streams a backup out of its pipeline. Start it, read it to EOF,
// then confirm CheckProcess; Close must always be called.
type Runner struct {
	typ      string
	filename string
	manifest string
	pipeline *Pipeline

	mu     sync.Mutex
	out    io.Reader
	read   int64
	closed bool
}

// New builds a Runner whose source stage is command. suffix carries the
// strategy's own format (".xbstream") ahead of the stage suffixes.
func New(typ, filename, command, suffix string, opts Options) (*Runner, error) {
	source := ShellStage(typ, command)
	source.Env = opts.Env
	stages := []Stage{source}
	if opts.Compress {
		stages = append(stages, opts.compressStage())
	}
	if opts.encrypted() {
		enc, err := opts.encryptStage()
		if err != nil {
			return nil, err
		}
		stages = append(stages, enc)
	}

	return &Runner{
		typ:      typ,
		filename: filename,
		manifest: filename + suffix + opts.Suffix(),
		pipeline: NewPipeline(stages...),
	}, nil
}

// Type is the backup strategy name.
func (r *Runner) Type() string { return r.typ }

// Manifest is the artifact name: base filename plus format suffixes.
func (r *Runner) Manifest() string { return r.manifest }

// Stages exposes the pipeline for inspection.
func (r *Runner) Stages() []Stage { return r.pipeline.Stages() }

// Start launches every stage of the pipeline.
func (r *Runner) Start(ctx context.Context) error {
	out, err := r.pipeline.StartSource(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.out = out
	r.mu.Unlock()

	slog.Info("Backup runner started", "type", r.typ, "manifest", r.manifest)
	return nil
}

func (r *Runner) Read(p []byte) (int, error) {
	r.mu.Lock()
	out := r.out
	r.mu.Unlock()
	if out == nil {
		return 0, errNotStarted
	}

	n, err := out.Read(p)

	r.mu.Lock()
	r.read += int64(n)
	r.mu.Unlock()
	return n, err
}

// BytesRead is the number of bytes read from the pipeline so far.
func (r *Runner) BytesRead() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read
}

// CheckProcess waits for the pipeline to exit and reports whether every stage
// succeeded. A crashed stage can still produce a stream that looks complete,
// so callers check this in addition to reaching EOF.
func (r *Runner) CheckProcess() error {
	return r.pipeline.Wait()
}

// Close terminates the pipeline. Safe on every path and more than once.
func (r *Runner) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	return r.pipeline.Close()
}
