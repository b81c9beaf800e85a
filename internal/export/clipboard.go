package export

import "github.com/atotto/clipboard"

// Clipboard places text on the system clipboard.
type Clipboard interface {
	Write(text string) error
}

type systemClipboard struct{}

// SystemClipboard returns the OS clipboard.
func SystemClipboard() Clipboard {
	return systemClipboard{}
}

func (systemClipboard) Write(text string) error {
	return clipboard.WriteAll(text)
}
