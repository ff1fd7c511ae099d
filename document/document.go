// Package document models the editor side of a prediction: the active document,
// the cursor, bounded context extraction around it, and insertion of the result.
package document

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	evocaition "github.com/Paranoid-AF/evocaition"
)

var (
	// ErrNoActiveDocument is returned when the host has no document or cursor.
	ErrNoActiveDocument = errors.New("no active text editor")
	// ErrDocumentChanged is returned when the document a prediction was
	// triggered for is no longer the active one at insertion time.
	ErrDocumentChanged = errors.New("document changed since the prediction was triggered")
)

// Document is a read-only view of an open text document.
type Document interface {
	ID() string
	Text() string
	Cursor() evocaition.Position
}

// Ref identifies the document and cursor a prediction was triggered from.
type Ref struct {
	DocumentID string
	Cursor     evocaition.Position
}

// Host is the editor collaborator: it owns the documents and applies edits.
type Host interface {
	// Active returns the document that currently has focus.
	Active() (Document, error)
	// Insert writes text at the current cursor of the document named by ref.
	// It fails with ErrDocumentChanged when that document is no longer active.
	Insert(ctx context.Context, ref Ref, text string) error
}

// Snapshot is the context captured from a document at trigger time.
type Snapshot struct {
	Ref    Ref
	Before string
	After  string
}

// Capture reads the active document once and returns the trailing maxBefore
// characters before the cursor and the leading maxAfter characters after it.
func Capture(h Host, maxBefore, maxAfter int) (*Snapshot, error) {
	if h == nil {
		return nil, ErrNoActiveDocument
	}
	doc, err := h.Active()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNoActiveDocument
	}
	text := doc.Text()
	cursor := doc.Cursor()
	off := Offset(text, cursor)
	return &Snapshot{
		Ref:    Ref{DocumentID: doc.ID(), Cursor: cursor},
		Before: Tail(text[:off], maxBefore),
		After:  Head(text[off:], maxAfter),
	}, nil
}

// TextBeforeCursor returns the last maxChars characters of the active document
// between its start and the cursor.
func TextBeforeCursor(h Host, maxChars int) (string, error) {
	snap, err := Capture(h, maxChars, 0)
	if err != nil {
		return "", err
	}
	return snap.Before, nil
}

// TextAfterCursor returns the first maxChars characters of the active document
// after the cursor.
func TextAfterCursor(h Host, maxChars int) (string, error) {
	snap, err := Capture(h, 0, maxChars)
	if err != nil {
		return "", err
	}
	return snap.After, nil
}

// Tail returns the last n runes of s, or s itself when it is shorter.
func Tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		// fewer bytes than n means fewer runes too
		return s
	}
	i := len(s)
	for count := 0; count < n && i > 0; count++ {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return s[i:]
}

// Head returns the first n runes of s, or s itself when it is shorter.
func Head(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	i := 0
	for count := 0; count < n && i < len(s); count++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}

// Offset converts a line/character position into a byte offset into text.
// Positions past the end of a line or of the document are clamped.
func Offset(text string, pos evocaition.Position) int {
	if pos.Line < 0 {
		return 0
	}
	start := 0
	for line := 0; line < pos.Line; line++ {
		nl := strings.IndexByte(text[start:], '\n')
		if nl < 0 {
			return len(text)
		}
		start += nl + 1
	}

	end := len(text)
	if nl := strings.IndexByte(text[start:], '\n'); nl >= 0 {
		end = start + nl
		if end > start && text[end-1] == '\r' {
			end--
		}
	}

	i := start
	for count := 0; count < pos.Character && i < end; count++ {
		_, size := utf8.DecodeRuneInString(text[i:end])
		i += size
	}
	return i
}

// PositionAt converts a byte offset into a line/character position.
func PositionAt(text string, offset int) evocaition.Position {
	if offset > len(text) {
		offset = len(text)
	}
	if offset < 0 {
		offset = 0
	}
	prefix := text[:offset]
	line := strings.Count(prefix, "\n")
	lineStart := strings.LastIndexByte(prefix, '\n') + 1
	return evocaition.Position{Line: line, Character: utf8.RuneCountInString(prefix[lineStart:])}
}
