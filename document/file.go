package document

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	evocaition "github.com/Paranoid-AF/evocaition"
)

// File is a Host backed by a single file on disk with a fixed cursor.
// Insert rewrites the file only if its content is unchanged since Active read it.
type File struct {
	path   string
	cursor evocaition.Position

	mu       sync.Mutex
	captured []byte // sha256 of the content seen by Active
}

// NewFile returns a host for path with the cursor at pos.
func NewFile(path string, pos evocaition.Position) *File {
	return &File{path: path, cursor: pos}
}

type fileDoc struct {
	id     string
	text   string
	cursor evocaition.Position
}

func (d *fileDoc) ID() string                  { return d.id }
func (d *fileDoc) Text() string                { return d.text }
func (d *fileDoc) Cursor() evocaition.Position { return d.cursor }

// Active reads the file and remembers its content hash.
func (f *File) Active() (Document, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoActiveDocument, f.path)
		}
		return nil, err
	}
	sum := sha256.Sum256(data)
	f.mu.Lock()
	f.captured = sum[:]
	f.mu.Unlock()

	text := string(data)
	return &fileDoc{
		id:     f.path,
		text:   text,
		cursor: PositionAt(text, Offset(text, f.cursor)),
	}, nil
}

// Insert writes text at the cursor, failing with ErrDocumentChanged if the file
// was modified after Active.
func (f *File) Insert(_ context.Context, ref Ref, text string) error {
	if ref.DocumentID != f.path {
		return ErrDocumentChanged
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoActiveDocument, f.path)
		}
		return err
	}

	sum := sha256.Sum256(data)
	f.mu.Lock()
	captured := f.captured
	f.mu.Unlock()
	if captured == nil || !bytes.Equal(captured, sum[:]) {
		return ErrDocumentChanged
	}

	content := string(data)
	off := Offset(content, f.cursor)
	updated := content[:off] + text + content[off:]

	info, err := os.Stat(f.path)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(updated); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

var _ Host = (*File)(nil)
