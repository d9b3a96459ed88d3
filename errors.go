package scu

import (
	"errors"
	"fmt"
	"syscall"
)

// Errors returned by the routing engine and the pipeline scheduler.
// Each wraps the errno a kernel driver would report for the same condition.
var (
	ErrInvalidRoute  = fmt.Errorf("route not permitted on this board: %w", syscall.EINVAL)
	ErrInvalidValue  = fmt.Errorf("value out of range: %w", syscall.EINVAL)
	ErrNotFound      = fmt.Errorf("resource not found: %w", syscall.ENOENT)
	ErrNotApplicable = fmt.Errorf("resource field not applicable: %w", syscall.ENXIO)
	ErrBusy          = fmt.Errorf("resource busy: %w", syscall.EBUSY)
	ErrBadState      = fmt.Errorf("operation not allowed in current state: %w", syscall.EBADFD)
	ErrXrun          = fmt.Errorf("stream xrun: %w", syscall.EPIPE)
	ErrClosed        = errors.New("substream closed")
)
