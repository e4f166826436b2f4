package email

import (
	"errors"
	"fmt"
)

// ErrExpunged is returned by FolderHandle.Open when the message was removed
// from the folder after it was fetched.
var ErrExpunged = errors.New("message expunged")

// FolderNotFoundError is returned when a folder path does not exist.
type FolderNotFoundError struct {
	Folder string
	Err    error
}

func (e *FolderNotFoundError) Error() string {
	return fmt.Sprintf("folder not found: %s", e.Folder)
}

func (e *FolderNotFoundError) Unwrap() error { return e.Err }

// RemoteError wraps a failure reported by the mail store. Op names the
// operation (search, fetch, store, copy, move, expunge, ...).
type RemoteError struct {
	Op     string
	Folder string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Folder != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Folder, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func remoteErr(op, folder string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteError{Op: op, Folder: folder, Err: err}
}

// IsFolderNotFound reports whether err is or wraps a *FolderNotFoundError.
func IsFolderNotFound(err error) bool {
	var nf *FolderNotFoundError
	return errors.As(err, &nf)
}
