// Package errors defines the typed errors produced while building pages.
//
// Every failure surfaced by the build pipeline carries a Kind so callers can
// decide how to react: manifest parse failures are recovered locally, all
// other kinds abort the current page build.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a build failure.
type Kind string

const (
	KindAssetNotFound          Kind = "asset_not_found"
	KindUnsupportedAssetFormat Kind = "unsupported_asset_format"
	KindCompileFailure         Kind = "compile_failure"
	KindExternalCommandFailure Kind = "external_command_failure"
	KindManifestParseFailure   Kind = "manifest_parse_failure"
	KindOutputWriteFailure     Kind = "output_write_failure"
	KindConfig                 Kind = "config"
	KindInternal               Kind = "internal"
)

// Error is a structured error with a kind and optional file context.
type Error struct {
	Kind    Kind
	Op      string
	Path    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Op))
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		if result == "" {
			return e.Cause.Error()
		}
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}

	return false
}

// WithOp records the operation that failed.
func (e *Error) WithOp(op string) *Error {
	e.Op = op

	return e
}

// Sentinels usable with errors.Is.
var (
	ErrAssetNotFound          = &Error{Kind: KindAssetNotFound}
	ErrUnsupportedAssetFormat = &Error{Kind: KindUnsupportedAssetFormat}
	ErrCompileFailure         = &Error{Kind: KindCompileFailure}
	ErrExternalCommandFailure = &Error{Kind: KindExternalCommandFailure}
	ErrManifestParseFailure   = &Error{Kind: KindManifestParseFailure}
	ErrOutputWriteFailure     = &Error{Kind: KindOutputWriteFailure}
)

// NewAssetNotFound reports a referenced asset missing on disk.
func NewAssetNotFound(path string, cause error) *Error {
	return &Error{
		Kind:    KindAssetNotFound,
		Path:    path,
		Message: "asset not found",
		Cause:   cause,
	}
}

// NewUnsupportedAssetFormat reports an asset whose extension is not handled.
func NewUnsupportedAssetFormat(path, ext string) *Error {
	return &Error{
		Kind:    KindUnsupportedAssetFormat,
		Path:    path,
		Message: fmt.Sprintf("unsupported asset format %q", ext),
	}
}

// NewCompileFailure reports a script or stylesheet compile failure.
func NewCompileFailure(path, message string, cause error) *Error {
	return &Error{
		Kind:    KindCompileFailure,
		Path:    path,
		Message: message,
		Cause:   cause,
	}
}

// NewExternalCommandFailure reports a failed project build command.
func NewExternalCommandFailure(command, message string, cause error) *Error {
	return &Error{
		Kind:    KindExternalCommandFailure,
		Op:      command,
		Message: message,
		Cause:   cause,
	}
}

// NewManifestParseFailure reports a malformed project manifest.
func NewManifestParseFailure(path string, cause error) *Error {
	return &Error{
		Kind:    KindManifestParseFailure,
		Path:    path,
		Message: "malformed manifest",
		Cause:   cause,
	}
}

// NewOutputWriteFailure reports a failure persisting a built page.
func NewOutputWriteFailure(path, message string, cause error) *Error {
	return &Error{
		Kind:    KindOutputWriteFailure,
		Path:    path,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string) *Error {
	return &Error{
		Kind:    KindConfig,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Message: message,
		Cause:   cause,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, &Error{Kind: kind})
}
