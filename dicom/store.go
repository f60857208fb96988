package dicom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
)

// DirectoryStore writes every received instance as a Part 10 file named
// <sop instance uid>.dcm in one directory. It is safe for concurrent use as
// long as instance UIDs are unique.
type DirectoryStore struct {
	dir                       string
	implementationClassUID    string
	implementationVersionName string
	logger                    *slog.Logger
}

// DirectoryStoreOption configures a DirectoryStore.
type DirectoryStoreOption func(*DirectoryStore)

// WithImplementation sets the implementation class UID and version name
// recorded in the File Meta Information of written files.
func WithImplementation(classUID, versionName string) DirectoryStoreOption {
	return func(s *DirectoryStore) {
		s.implementationClassUID = classUID
		s.implementationVersionName = versionName
	}
}

// WithStoreLogger sets the logger used by the store.
func WithStoreLogger(logger *slog.Logger) DirectoryStoreOption {
	return func(s *DirectoryStore) {
		s.logger = logger
	}
}

// NewDirectoryStore creates dir if needed and returns a store writing into it.
func NewDirectoryStore(dir string, opts ...DirectoryStoreOption) (*DirectoryStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	s := &DirectoryStore{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Dir returns the directory instances are written to.
func (s *DirectoryStore) Dir() string {
	return s.dir
}

// PathFor returns the file an instance is stored at.
func (s *DirectoryStore) PathFor(sopInstanceUID string) string {
	return filepath.Join(s.dir, sopInstanceUID+".dcm")
}

// StoreInstance writes the data set as a Part 10 file. The file appears
// atomically under its final name. A full disk is reported as
// errors.ErrOutOfResources. A data set that already carries a Part 10
// header is unwrapped first so files are never double wrapped.
func (s *DirectoryStore) StoreInstance(ctx context.Context, sopClassUID, sopInstanceUID, transferSyntax string, dataset []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validUID(sopInstanceUID) {
		return fmt.Errorf("invalid SOP instance UID %q", sopInstanceUID)
	}
	if HasPart10Header(dataset) {
		stripped, err := StripPart10Header(dataset)
		if err != nil {
			return fmt.Errorf("unwrap Part 10 data set: %w", err)
		}
		dataset = stripped
	}

	tmp, err := os.CreateTemp(s.dir, ".incoming-*")
	if err != nil {
		return storageError("create temporary file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	meta := FileMeta{
		MediaStorageSOPClassUID:    sopClassUID,
		MediaStorageSOPInstanceUID: sopInstanceUID,
		TransferSyntaxUID:          transferSyntax,
		ImplementationClassUID:     s.implementationClassUID,
		ImplementationVersionName:  s.implementationVersionName,
	}
	if err := WritePart10(tmp, meta, dataset); err != nil {
		tmp.Close()
		return storageError("write instance", err)
	}
	if err := tmp.Close(); err != nil {
		return storageError("close instance", err)
	}

	path := s.PathFor(sopInstanceUID)
	if err := os.Rename(tmpName, path); err != nil {
		return storageError("rename instance", err)
	}

	s.logger.DebugContext(ctx, "Wrote instance",
		"path", path,
		"sop_instance_uid", sopInstanceUID,
		"size_bytes", len(dataset))
	return nil
}

func storageError(op string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%s: %w: %w", op, dicomerrors.ErrOutOfResources, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// validUID reports whether uid is a syntactically valid UID: digits and
// dots, at most 64 characters, no empty components.
func validUID(uid string) bool {
	if uid == "" || len(uid) > 64 {
		return false
	}
	prevDot := true
	for _, c := range uid {
		switch {
		case c == '.':
			if prevDot {
				return false
			}
			prevDot = true
		case c >= '0' && c <= '9':
			prevDot = false
		default:
			return false
		}
	}
	return !prevDot
}
