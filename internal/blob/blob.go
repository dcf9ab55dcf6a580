// Package blob stores uploaded note attachments. Every attachment lives in a
// per-user namespace; a ref only resolves inside its owner's namespace.
package blob

import (
	"context"
	"errors"
	"io"
	"strings"
)

var (
	// ErrNotFound is returned when a ref does not resolve to a stored object.
	ErrNotFound = errors.New("attachment not found")
	// ErrInvalidRef is returned for refs that are not well formed.
	ErrInvalidRef = errors.New("invalid attachment ref")
)

// Attachment describes a stored upload. Ref is an opaque object name valid
// only within the owner's namespace.
type Attachment struct {
	Ref  string `json:"ref"`
	Name string `json:"name"`
}

// Store persists and serves attachments.
type Store interface {
	// Store writes the attachment into userID's namespace and returns its
	// ref. The original file name is used only to derive the extension.
	Store(ctx context.Context, userID, originalName string, r io.Reader, size int64) (Attachment, error)
	// Open resolves a ref inside userID's namespace.
	Open(ctx context.Context, userID, ref string) (io.ReadCloser, error)
	// Delete removes a stored attachment. Missing objects are not an error.
	Delete(ctx context.Context, userID, ref string) error
}

// validRef rejects refs that could escape the namespace: empty names, path
// separators, dot segments.
func validRef(ref string) error {
	if ref == "" || ref == "." || ref == ".." {
		return ErrInvalidRef
	}
	if strings.ContainsAny(ref, "/\\") {
		return ErrInvalidRef
	}
	return nil
}
