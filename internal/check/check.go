package check

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"slices"

	"github.com/kballard/go-shellquote"

	"dbrb/internal/config"
	"dbrb/internal/crypto"
	"dbrb/internal/remote"
	"dbrb/internal/runner"
	"dbrb/internal/strategy"
)

var lookPath = exec.LookPath

func Run(ctx context.Context, configPath string, w io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Fprintln(w, "config: OK")

	store, err := remote.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	return Check(ctx, cfg, store, strategy.Default(), w)
}

// Check verifies that jobs of the configured datastore type can run: the
// pipeline binaries exist, the object store answers and the cipher works.
func Check(ctx context.Context, cfg *config.Config, store remote.ObjectStore, reg *strategy.Registry, w io.Writer) error {
	if typ := cfg.Datastore.Type; typ != "" {
		bins, err := binaries(cfg, reg, typ)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", typ, err)
		}
		for _, bin := range bins {
			path, err := lookPath(bin)
			if err != nil {
				return fmt.Errorf("strategy %s: %w", typ, err)
			}
			fmt.Fprintf(w, "binary %s: OK (%s)\n", bin, path)
		}
		fmt.Fprintf(w, "strategy %s: OK\n", typ)
	}

	if cfg.Storage.Backend == "s3" {
		if err := remote.ValidateStorageClass(string(cfg.Storage.S3.StorageClass)); err != nil {
			return fmt.Errorf("storage class: %w", err)
		}
	}
	if err := store.VerifyCredentials(ctx, cfg.Container()); err != nil {
		return fmt.Errorf("storage credentials: %w", err)
	}
	fmt.Fprintf(w, "storage %s container %s: OK\n", store.BaseURL(), cfg.Container())

	if runner.Cipher(cfg.Backup.Cipher) == runner.CipherAge {
		if err := ageRoundTrip(cfg.Backup.Passphrase, cfg.Backup.WorkFactor); err != nil {
			return fmt.Errorf("cipher age: %w", err)
		}
		fmt.Fprintln(w, "cipher age: OK")
	}

	fmt.Fprintln(w, "all checks passed")
	return nil
}

// binaries lists the executables the backup and restore pipelines of typ run.
func binaries(cfg *config.Config, reg *strategy.Registry, typ string) ([]string, error) {
	params := strategy.Params{
		Filename:        "check",
		RestoreLocation: cfg.Datastore.DataDir,
		User:            cfg.Datastore.User,
		Password:        cfg.Datastore.Password,
		ExtraOpts:       cfg.Datastore.ExtraOpts,
		DataDir:         cfg.Datastore.DataDir,
		Options:         cfg.RunnerOptions(),
	}

	backupFactory, err := reg.ResolveBackup(typ)
	if err != nil {
		return nil, err
	}
	b, err := backupFactory(params)
	if err != nil {
		return nil, err
	}
	restoreFactory, err := reg.ResolveRestore(typ)
	if err != nil {
		return nil, err
	}
	r, err := restoreFactory(params)
	if err != nil {
		return nil, err
	}

	var bins []string
	for _, s := range append(b.Stages(), r.Stages()...) {
		var bin string
		switch {
		case len(s.Args) > 0:
			bin = s.Args[0]
		case s.Command != "":
			words, err := shellquote.Split(s.Command)
			if err != nil || len(words) == 0 {
				return nil, fmt.Errorf("cannot parse stage %s command: %q", s.Name, s.Command)
			}
			bin = words[0]
		default:
			continue
		}
		if !slices.Contains(bins, bin) {
			bins = append(bins, bin)
		}
	}
	return bins, nil
}

func ageRoundTrip(secret string, workFactor int) error {
	p, err := crypto.NewPassphrase(secret, workFactor)
	if err != nil {
		return err
	}

	probe := []byte("dbrb cipher check")
	var sealed, opened bytes.Buffer
	if err := p.Encrypt(&sealed, bytes.NewReader(probe)); err != nil {
		return err
	}
	if err := p.Decrypt(&opened, &sealed); err != nil {
		return err
	}
	if !bytes.Equal(probe, opened.Bytes()) {
		return fmt.Errorf("decrypted probe does not match")
	}
	return nil
}
