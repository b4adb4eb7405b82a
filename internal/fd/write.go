package fd

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write modes for WriteToFile.
const (
	WriteModeWrite  = "write"
	WriteModeAppend = "append"
)

// WriteOptions controls how descriptor content lands on disk. The matrix:
//
//	write  + create + exist_ok : create new or overwrite existing
//	write  + create            : create new only, existing file is an error
//	write  + exist_ok          : overwrite existing only, missing file is an error
//	append + create            : append, creating the file if missing
//	append                     : append to existing only
//	!create + !exist_ok        : rejected as contradictory
type WriteOptions struct {
	Mode    string
	Create  bool
	ExistOK bool
}

// DefaultWriteOptions is the permissive default: write, create, exist_ok.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{Mode: WriteModeWrite, Create: true, ExistOK: true}
}

// WriteToFile exports descriptor content to a file path, honoring the
// create/exist_ok policy matrix, and returns a result envelope describing
// the operation.
func (m *Manager) WriteToFile(id, path string, opts WriteOptions) (string, error) {
	content, err := m.Get(id)
	if err != nil {
		return "", err
	}

	if opts.Mode == "" {
		opts.Mode = WriteModeWrite
	}
	if opts.Mode != WriteModeWrite && opts.Mode != WriteModeAppend {
		return "", newError(ErrInvalidMode, id, "invalid write mode %q: expected write or append", opts.Mode)
	}
	if !opts.Create && !opts.ExistOK {
		return "", newError(ErrInvalidMode, id, "invalid combination: create=false with exist_ok=false can never succeed")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", newError(ErrWriteError, id, "cannot resolve path %q: %v", path, err)
	}

	_, statErr := os.Stat(abs)
	exists := statErr == nil

	switch opts.Mode {
	case WriteModeWrite:
		if exists && !opts.ExistOK {
			return "", newError(ErrFileExists, id, "file %s already exists and exist_ok=false", abs)
		}
		if !exists && !opts.Create {
			return "", newError(ErrFileNotFound, id, "file %s does not exist and create=false", abs)
		}
	case WriteModeAppend:
		if !exists && !opts.Create {
			return "", newError(ErrFileNotFound, id, "file %s does not exist and create=false", abs)
		}
	}

	flags := os.O_WRONLY | os.O_CREATE
	if opts.Mode == WriteModeAppend {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(abs, flags, 0o644)
	if err != nil {
		return "", newError(ErrWriteError, id, "cannot open %s: %v", abs, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return "", newError(ErrWriteError, id, "cannot write %s: %v", abs, err)
	}

	m.logger.Info("exported file descriptor", "fd", id, "path", abs, "mode", opts.Mode, "size", len(content))
	return fmt.Sprintf("<fd_file_result fd=%q file_path=%q mode=%q char_count=\"%d\" success=\"true\">\n  Content (%d chars) successfully written to %s\n</fd_file_result>",
		id, abs, opts.Mode, len([]rune(content)), len([]rune(content)), abs), nil
}
