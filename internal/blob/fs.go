package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FSStore keeps attachments on the local filesystem under one directory per
// user.
type FSStore struct {
	root string
}

// NewFS creates a filesystem-backed store rooted at dir.
func NewFS(dir string) (*FSStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &FSStore{root: abs}, nil
}

func (s *FSStore) Store(ctx context.Context, userID, originalName string, r io.Reader, size int64) (Attachment, error) {
	if userID == "" {
		return Attachment{}, ErrInvalidRef
	}

	ref := uuid.NewString() + sanitizeExt(originalName)
	if err := os.MkdirAll(filepath.Join(s.root, userID), 0o755); err != nil {
		return Attachment{}, fmt.Errorf("create user dir: %w", err)
	}

	path, err := s.resolve(userID, ref)
	if err != nil {
		return Attachment{}, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Attachment{}, fmt.Errorf("create attachment file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return Attachment{}, fmt.Errorf("write attachment: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return Attachment{}, fmt.Errorf("close attachment: %w", err)
	}

	return Attachment{Ref: ref, Name: originalName}, nil
}

func (s *FSStore) Open(ctx context.Context, userID, ref string) (io.ReadCloser, error) {
	path, err := s.resolve(userID, ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	return f, nil
}

func (s *FSStore) Delete(ctx context.Context, userID, ref string) error {
	path, err := s.resolve(userID, ref)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}

// resolve validates the ref, joins it under the user's directory and verifies
// the canonical path is still inside that directory.
func (s *FSStore) resolve(userID, ref string) (string, error) {
	if err := validRef(ref); err != nil {
		return "", err
	}
	if userID == "" || strings.ContainsAny(userID, "/\\") {
		return "", ErrInvalidRef
	}
	userDir := filepath.Join(s.root, userID)
	path := filepath.Clean(filepath.Join(userDir, ref))
	if !strings.HasPrefix(path, userDir+string(filepath.Separator)) {
		return "", ErrInvalidRef
	}
	return path, nil
}

// sanitizeExt keeps a short, safe extension from the original file name.
func sanitizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if ext == "" || ext == "." || len(ext) > 16 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
