package main

import "github.com/atotto/clipboard"

// Copier copies textual data to the system clipboard.
type Copier interface {
	Copy(text string) error
}

// systemClipboard implements Copier using github.com/atotto/clipboard.
type systemClipboard struct{}

func (systemClipboard) Copy(text string) error {
	return clipboard.WriteAll(text)
}
