package snap

import (
	"errors"
	"strings"
)

// Error kinds. Match them with errors.Is; every *Error unwraps to its kind.
var (
	// ErrNotFound: unknown snapshot id, path or storage pointer.
	ErrNotFound = errors.New("not found")
	// ErrIntegrity: resolved bytes do not match the recorded hash, or a
	// referenced ancestor or blob is missing.
	ErrIntegrity = errors.New("integrity error")
	// ErrConflict: delete requested on a snapshot still referenced by
	// descendants.
	ErrConflict = errors.New("conflict")
	// ErrBackend: storage backend failure. Safe to retry.
	ErrBackend = errors.New("backend error")
	// ErrBuildAborted: a single file could not be read or hashed during a
	// build.
	ErrBuildAborted = errors.New("build aborted")
)

// Error carries an error kind together with the context needed to diagnose
// it without inspecting internal state.
type Error struct {
	Kind       error
	Op         string
	SnapshotID string
	Path       string
	Backend    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("error")
	}
	if e.SnapshotID != "" {
		b.WriteString(" snapshot=")
		b.WriteString(e.SnapshotID)
	}
	if e.Path != "" {
		b.WriteString(" path=")
		b.WriteString(e.Path)
	}
	if e.Backend != "" {
		b.WriteString(" backend=")
		b.WriteString(e.Backend)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NotFoundError reports a missing snapshot, path or pointer.
func NotFoundError(op, snapshotID, path string) error {
	return &Error{Kind: ErrNotFound, Op: op, SnapshotID: snapshotID, Path: path}
}

// IntegrityError reports data that no longer matches what the catalog records.
func IntegrityError(op, snapshotID, path string, err error) error {
	return &Error{Kind: ErrIntegrity, Op: op, SnapshotID: snapshotID, Path: path, Err: err}
}

// ConflictError reports a snapshot that cannot be deleted.
func ConflictError(op, snapshotID string, err error) error {
	return &Error{Kind: ErrConflict, Op: op, SnapshotID: snapshotID, Err: err}
}

// BackendError wraps a storage backend failure.
func BackendError(op, backend string, err error) error {
	return &Error{Kind: ErrBackend, Op: op, Backend: backend, Err: err}
}

// BuildAbortedError wraps a per-file failure during a build.
func BuildAbortedError(path string, err error) error {
	return &Error{Kind: ErrBuildAborted, Op: "build", Path: path, Err: err}
}

// IsRetryable reports whether err is a transient backend failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackend)
}
