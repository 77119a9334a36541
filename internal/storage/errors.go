package storage

import (
	"errors"
	"fmt"
)

var (
	ErrIntegrity = errors.New("checksum mismatch")
	ErrTransport = errors.New("object store transport failure")
)

// Integrity levels.
const (
	LevelSegment  = "segment"
	LevelManifest = "manifest"
	LevelStream   = "stream"
)

// IntegrityError reports a checksum that did not match at one level.
type IntegrityError struct {
	Level    string
	Name     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s %s checksum mismatch: expected %q, got %q", e.Level, e.Name, e.Expected, e.Actual)
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}
