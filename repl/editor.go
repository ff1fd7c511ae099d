package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/term"
)

// Terminal is the controlling tty in raw mode.
// It reads from /dev/tty so it works even when stdout is redirected.
type Terminal struct {
	tty      *os.File
	oldState *term.State
}

// OpenTerminal opens /dev/tty and switches to raw mode.
func OpenTerminal() (*Terminal, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/tty: %w", err)
	}

	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("raw mode: %w", err)
	}

	return &Terminal{tty: tty, oldState: old}, nil
}

// Close restores terminal state and closes the tty fd.
func (t *Terminal) Close() {
	term.Restore(int(t.tty.Fd()), t.oldState)
	t.tty.Close()
}

func (t *Terminal) Read(p []byte) (int, error)  { return t.tty.Read(p) }
func (t *Terminal) Write(p []byte) (int, error) { return t.tty.Write(p) }

type keyKind int

const (
	keyNone keyKind = iota
	keyRune
	keyEnter
	keyBackspace
	keyDelete
	keyLeft
	keyRight
	keyHome
	keyEnd
	keyClear
	keyEOF
	keyInterrupt
	keyPredictText
	keyPredictSentence
)

type key struct {
	kind keyKind
	r    rune
}

// readKey decodes one keypress from raw terminal input.
func readKey(r *bufio.Reader) (key, error) {
	b, err := r.ReadByte()
	if err != nil {
		return key{}, err
	}

	switch b {
	case 3: // Ctrl-C
		return key{kind: keyInterrupt}, nil
	case 4: // Ctrl-D
		return key{kind: keyEOF}, nil
	case 13, 10:
		return key{kind: keyEnter}, nil
	case 127, 8: // Backspace / Ctrl-H
		return key{kind: keyBackspace}, nil
	case 1: // Ctrl-A
		return key{kind: keyHome}, nil
	case 5: // Ctrl-E
		return key{kind: keyEnd}, nil
	case 21: // Ctrl-U
		return key{kind: keyClear}, nil
	case 20: // Ctrl-T
		return key{kind: keyPredictText}, nil
	case 9: // Tab
		return key{kind: keyPredictSentence}, nil
	case 27:
		return readEscape(r)
	}

	if b < 32 {
		return key{kind: keyNone}, nil
	}
	if b < utf8.RuneSelf {
		return key{kind: keyRune, r: rune(b)}, nil
	}
	if err := r.UnreadByte(); err != nil {
		return key{}, err
	}
	ch, _, err := r.ReadRune()
	if err != nil {
		return key{}, err
	}
	return key{kind: keyRune, r: ch}, nil
}

// readEscape decodes the CSI sequence following ESC.
func readEscape(r *bufio.Reader) (key, error) {
	b, err := r.ReadByte()
	if err != nil || b != '[' {
		return key{kind: keyNone}, nil
	}
	b, err = r.ReadByte()
	if err != nil {
		return key{kind: keyNone}, nil
	}
	switch b {
	case 'D':
		return key{kind: keyLeft}, nil
	case 'C':
		return key{kind: keyRight}, nil
	case 'H':
		return key{kind: keyHome}, nil
	case 'F':
		return key{kind: keyEnd}, nil
	case '3', '1', '4':
		r.ReadByte() // consume '~'
		switch b {
		case '3':
			return key{kind: keyDelete}, nil
		case '1':
			return key{kind: keyHome}, nil
		default:
			return key{kind: keyEnd}, nil
		}
	}
	return key{kind: keyNone}, nil
}

// readKeys sends decoded keys until r fails.
func readKeys(r io.Reader, keys chan<- key, done <-chan struct{}) {
	defer close(keys)
	br := bufio.NewReader(r)
	for {
		k, err := readKey(br)
		if err != nil {
			return
		}
		select {
		case keys <- k:
		case <-done:
			return
		}
	}
}

// edit applies a line-editing key to text with the cursor at byte offset
// off and returns the new text and offset.
func edit(k key, text string, off int) (string, int) {
	switch k.kind {
	case keyRune:
		s := string(k.r)
		return text[:off] + s + text[off:], off + len(s)
	case keyBackspace:
		if off == 0 {
			return text, off
		}
		_, size := utf8.DecodeLastRuneInString(text[:off])
		return text[:off-size] + text[off:], off - size
	case keyDelete:
		if off == len(text) {
			return text, off
		}
		_, size := utf8.DecodeRuneInString(text[off:])
		return text[:off] + text[off+size:], off
	case keyLeft:
		if off == 0 {
			return text, off
		}
		_, size := utf8.DecodeLastRuneInString(text[:off])
		return text, off - size
	case keyRight:
		if off == len(text) {
			return text, off
		}
		_, size := utf8.DecodeRuneInString(text[off:])
		return text, off + size
	case keyHome:
		return text, 0
	case keyEnd:
		return text, len(text)
	case keyClear:
		return "", 0
	}
	return text, off
}
