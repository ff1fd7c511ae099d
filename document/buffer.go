package document

import (
	"context"
	"sync"

	evocaition "github.com/Paranoid-AF/evocaition"
)

// Buffer is an in-memory document with a cursor.
type Buffer struct {
	mu     sync.Mutex
	id     string
	text   string
	cursor evocaition.Position
}

// NewBuffer creates a buffer with the cursor at pos.
func NewBuffer(id, text string, pos evocaition.Position) *Buffer {
	return &Buffer{id: id, text: text, cursor: PositionAt(text, Offset(text, pos))}
}

// NewBufferAtEnd creates a buffer with the cursor after the last character.
func NewBufferAtEnd(id, text string) *Buffer {
	return &Buffer{id: id, text: text, cursor: PositionAt(text, len(text))}
}

func (b *Buffer) ID() string { return b.id }

func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

func (b *Buffer) Cursor() evocaition.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// State returns the text and the cursor as a byte offset, read together.
func (b *Buffer) State() (string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text, Offset(b.text, b.cursor)
}

// SetCursor moves the cursor, clamping it to the text.
func (b *Buffer) SetCursor(pos evocaition.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursor = PositionAt(b.text, Offset(b.text, pos))
}

// InsertAtCursor inserts s at the cursor and moves the cursor past it.
func (b *Buffer) InsertAtCursor(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	off := Offset(b.text, b.cursor)
	b.text = b.text[:off] + s + b.text[off:]
	b.cursor = PositionAt(b.text, off+len(s))
}

// Update replaces the text and cursor atomically. fn receives the current
// text and the cursor as a byte offset and returns the new pair.
func (b *Buffer) Update(fn func(text string, offset int) (string, int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	text, off := fn(b.text, Offset(b.text, b.cursor))
	b.text = text
	b.cursor = PositionAt(text, off)
}

// Workspace is a Host over a set of open buffers, one of which has focus.
type Workspace struct {
	mu     sync.Mutex
	docs   map[string]*Buffer
	active string
}

// NewWorkspace creates an empty workspace with no active document.
func NewWorkspace() *Workspace {
	return &Workspace{docs: make(map[string]*Buffer)}
}

// Open adds b to the workspace and focuses it.
func (w *Workspace) Open(b *Buffer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.docs[b.ID()] = b
	w.active = b.ID()
}

// Focus makes the buffer with the given id active. Unknown ids clear focus.
func (w *Workspace) Focus(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.docs[id]; ok {
		w.active = id
	} else {
		w.active = ""
	}
}

// Close removes a buffer; closing the active buffer leaves no document active.
func (w *Workspace) Close(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.docs, id)
	if w.active == id {
		w.active = ""
	}
}

// Active returns the focused buffer.
func (w *Workspace) Active() (Document, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.docs[w.active]
	if !ok {
		return nil, ErrNoActiveDocument
	}
	return b, nil
}

// Insert inserts text at the cursor of the referenced buffer if it still has focus.
func (w *Workspace) Insert(_ context.Context, ref Ref, text string) error {
	w.mu.Lock()
	b, ok := w.docs[w.active]
	w.mu.Unlock()
	if !ok {
		return ErrNoActiveDocument
	}
	if b.ID() != ref.DocumentID {
		return ErrDocumentChanged
	}
	b.InsertAtCursor(text)
	return nil
}

var (
	_ Document = (*Buffer)(nil)
	_ Host     = (*Workspace)(nil)
)
