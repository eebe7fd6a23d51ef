package kernel

import (
	"errors"
	"syscall"

	"github.com/vishvananda/netlink"

	"vnet/internal/domain"
)

// linkError classifies a netlink failure. Missing links and namespaces wrap
// domain.ErrNotFound so removals can tell "already gone" from "refused".
func linkError(op, name string, err error) error {
	kind := domain.LinkErrorUnknown

	var notFound netlink.LinkNotFoundError
	var errno syscall.Errno
	switch {
	case errors.As(err, &notFound):
		kind = domain.LinkErrorKernel
		err = notFoundError{err}
	case errors.As(err, &errno):
		kind = domain.LinkErrorKernel
		if errno == syscall.ENOENT || errno == syscall.ENODEV {
			err = notFoundError{err}
		}
	}
	return &domain.LinkError{Op: op, Name: name, Kind: kind, Err: err}
}

// syntaxError reports an argument the kernel was never asked about
func syntaxError(op, name string, err error) error {
	return &domain.LinkError{Op: op, Name: name, Kind: domain.LinkErrorSyntax, Err: err}
}

// notFoundError keeps the kernel's message while matching domain.ErrNotFound
type notFoundError struct {
	err error
}

func (e notFoundError) Error() string { return e.err.Error() }

func (e notFoundError) Is(target error) bool { return target == domain.ErrNotFound }

func (e notFoundError) Unwrap() error { return e.err }
