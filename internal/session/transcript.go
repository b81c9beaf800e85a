package session

import "strings"

// Transcript accumulates finalized speech in arrival order. It only ever
// grows by appending; the sole reset path is an explicit clear.
type Transcript struct {
	b strings.Builder
}

func (t *Transcript) Append(text string) {
	t.b.WriteString(text)
}

func (t *Transcript) String() string {
	return t.b.String()
}

func (t *Transcript) Empty() bool {
	return t.b.Len() == 0
}

func (t *Transcript) Reset() {
	t.b.Reset()
}
