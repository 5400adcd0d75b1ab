package utils

import (
	"bytes"
	"encoding/json"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/spf13/afero"
)

type Fs struct {
	AppFs afero.Fs
}

func NewFs(appFs afero.Fs) Fs {
	return Fs{AppFs: appFs}
}

func (fs Fs) WriteJSON(filePath string, data interface{}) error {
	f, err := fs.AppFs.Create(filePath)
	if err != nil {
		return xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err = f.Write(b); err != nil {
		return xerrors.Errorf("failed to save a file: %w", err)
	}
	return nil
}

// WriteJSONLines writes one compact JSON object per line (JSONL).
func (fs Fs) WriteJSONLines(filePath string, records []interface{}) error {
	f, err := fs.AppFs.Create(filePath)
	if err != nil {
		return xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return xerrors.Errorf("failed to marshal JSON: %w", err)
		}
		if _, err = f.Write(append(b, '\n')); err != nil {
			return xerrors.Errorf("failed to save a file: %w", err)
		}
	}
	return nil
}

// WriteBytesAtomic writes via a temp file and rename so a concurrent reader
// never observes a half-written file.
func (fs Fs) WriteBytesAtomic(filePath string, b []byte) error {
	dir := filepath.Dir(filePath)
	if err := fs.AppFs.MkdirAll(dir, 0755); err != nil {
		return xerrors.Errorf("failed to create the directory: %w", err)
	}

	tmp, err := afero.TempFile(fs.AppFs, dir, ".tmp-*")
	if err != nil {
		return xerrors.Errorf("failed to create a temp file: %w", err)
	}
	if _, err = tmp.Write(b); err != nil {
		tmp.Close()
		fs.AppFs.Remove(tmp.Name())
		return xerrors.Errorf("failed to write a temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		fs.AppFs.Remove(tmp.Name())
		return err
	}
	if err = fs.AppFs.Rename(tmp.Name(), filePath); err != nil {
		fs.AppFs.Remove(tmp.Name())
		return xerrors.Errorf("rename error: %w", err)
	}
	return nil
}

func (fs Fs) WriteJSONAtomic(filePath string, data interface{}) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to marshal JSON: %w", err)
	}
	return fs.WriteBytesAtomic(filePath, b)
}

// WriteJSONLinesAtomic is the atomic variant of WriteJSONLines.
func (fs Fs) WriteJSONLinesAtomic(filePath string, records []interface{}) error {
	var buf bytes.Buffer
	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return xerrors.Errorf("failed to marshal JSON: %w", err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return fs.WriteBytesAtomic(filePath, buf.Bytes())
}
