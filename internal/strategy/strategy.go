// Package strategy maps backup type names to the runner factories that know
// how to dump and load that datastore.
package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"dbrb/internal/runner"
)

// ErrUnknownStrategy is returned when no implementation is registered for a
// backup type.
var ErrUnknownStrategy = errors.New("unknown backup strategy")

// Params is what a factory needs to build a runner for one job.
type Params struct {
	// Filename is the artifact base name, normally the job id.
	Filename        string
	RestoreLocation string

	User      string
	Password  string
	ExtraOpts string
	// DataDir is the datastore's live data directory.
	DataDir string

	Options runner.Options
}

type BackupFactory func(p Params) (*runner.Runner, error)

type RestoreFactory func(p Params) (*runner.RestoreRunner, error)

// Registry is an explicit type -> factory table.
type Registry struct {
	mu       sync.RWMutex
	backups  map[string]BackupFactory
	restores map[string]RestoreFactory
}

func NewRegistry() *Registry {
	return &Registry{
		backups:  make(map[string]BackupFactory),
		restores: make(map[string]RestoreFactory),
	}
}

// Default returns a registry with the built-in datastore strategies.
func Default() *Registry {
	r := NewRegistry()
	r.RegisterBackup(MySQLDumpType, newMySQLDump)
	r.RegisterRestore(MySQLDumpType, newMySQLDumpRestore)
	r.RegisterBackup(InnoBackupExType, newInnoBackupEx)
	r.RegisterRestore(InnoBackupExType, newInnoBackupExRestore)
	r.RegisterBackup(RedisDumpType, newRedisDump)
	r.RegisterRestore(RedisDumpType, newRedisDumpRestore)
	return r
}

func (r *Registry) RegisterBackup(typ string, f BackupFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backups[typ] = f
}

func (r *Registry) RegisterRestore(typ string, f RestoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restores[typ] = f
}

func (r *Registry) ResolveBackup(typ string) (BackupFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.backups[typ]
	if !ok {
		return nil, fmt.Errorf("%w: no backup implementation for %q", ErrUnknownStrategy, typ)
	}
	return f, nil
}

func (r *Registry) ResolveRestore(typ string) (RestoreFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.restores[typ]
	if !ok {
		return nil, fmt.Errorf("%w: no restore implementation for %q", ErrUnknownStrategy, typ)
	}
	return f, nil
}

// Types lists the registered backup types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.backups))
	for t := range r.backups {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
