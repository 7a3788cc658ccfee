package fpstorage

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds returned by the storage modules. Test for them with errors.Is.
var (
	ErrDisabled        = errors.New("module disabled")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrBufferTooSmall  = errors.New("buffer too small")
	ErrNotFound        = errors.New("not found")
	ErrOutOfMemory     = errors.New("out of memory")
	ErrStorage         = errors.New("storage failure")
	ErrCorrupt         = errors.New("corrupt storage")
)

// StorageError wraps a failure reported by a Settings backend.
type StorageError struct {
	Op   string
	Name string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("settings %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// CorruptError describes a record rejected while loading or validating.
type CorruptError struct {
	Name   string
	Reason string
}

func (e *CorruptError) Error() string {
	if e.Name == "" {
		return "corrupt storage: " + e.Reason
	}
	return fmt.Sprintf("corrupt storage %q: %s", e.Name, e.Reason)
}

func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }
