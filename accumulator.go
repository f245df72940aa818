package realtime

import (
	"strings"
	"sync"
)

// TextAccumulator collects streamed text of the current response.
type TextAccumulator struct {
	mu sync.Mutex
	sb strings.Builder
}

// Append adds delta and returns the text so far.
func (a *TextAccumulator) Append(delta string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sb.WriteString(delta)
	return a.sb.String()
}

func (a *TextAccumulator) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sb.String()
}

func (a *TextAccumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sb.Reset()
}
