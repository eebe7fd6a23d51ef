package domain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound marks removals of resources that no longer exist
var ErrNotFound = errors.New("not found")

// ConfigError reports an invalid network definition. Nothing has been
// created when it is returned.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// LinkErrorKind classifies a link configuration failure
type LinkErrorKind string

const (
	LinkErrorSyntax  LinkErrorKind = "syntax"
	LinkErrorKernel  LinkErrorKind = "kernel"
	LinkErrorUnknown LinkErrorKind = "unknown"
)

// LinkError is a failed kernel link, address or route operation
type LinkError struct {
	Op   string
	Name string
	Kind LinkErrorKind
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s %s (%s): %v", e.Op, e.Name, e.Kind, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// ContainerError is a failed container runtime operation. Recoverable is set
// when the failure leaves nothing behind, such as removing a container that
// is already gone.
type ContainerError struct {
	Op          string
	Name        string
	Recoverable bool
	Err         error
}

func (e *ContainerError) Error() string {
	return fmt.Sprintf("container %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *ContainerError) Unwrap() error { return e.Err }

// OrchestrationError is a provisioning failure. Err is the original cause;
// Rollback holds every failure met while unwinding.
type OrchestrationError struct {
	Phase    string
	Node     string
	Err      error
	Rollback []error
}

func (e *OrchestrationError) Error() string {
	var b strings.Builder
	b.WriteString("provisioning failed in ")
	b.WriteString(e.Phase)
	if e.Node != "" {
		fmt.Fprintf(&b, " at %s", e.Node)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if n := len(e.Rollback); n > 0 {
		fmt.Fprintf(&b, " (rollback left %d resource(s) behind)", n)
	}
	return b.String()
}

func (e *OrchestrationError) Unwrap() error { return e.Err }
