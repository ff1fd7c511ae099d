// Package postprocess shapes raw tool output before it is inserted.
package postprocess

import (
	"unicode"
	"unicode/utf8"

	"github.com/Paranoid-AF/evocaition/command"
)

// Apply returns the text to insert for mode. Text mode is the identity.
// fallback reports that sentence mode found no terminator and appended one.
func Apply(raw string, mode command.ReturnMode) (text string, fallback bool) {
	if mode != command.ModeSentence {
		return raw, false
	}
	return FirstSentence(raw)
}

type state int

const (
	stateLeading    state = iota // whitespace before the sentence
	stateContent                 // inside the sentence
	stateTerminated              // a terminator was consumed
)

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// FirstSentence returns the shortest prefix of raw that ends with '.', '!'
// or '?', leading whitespace included. When raw has no terminator the whole
// text followed by "." is returned and fallback is true.
func FirstSentence(raw string) (sentence string, fallback bool) {
	st := stateLeading
	end := 0
	for i := 0; i < len(raw) && st != stateTerminated; {
		r, size := utf8.DecodeRuneInString(raw[i:])
		switch {
		case isTerminator(r):
			st = stateTerminated
		case st == stateLeading && unicode.IsSpace(r):
		default:
			st = stateContent
		}
		i += size
		end = i
	}
	if st == stateTerminated {
		return raw[:end], false
	}
	return raw + ".", true
}
