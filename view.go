package realtime

import "sync"

type Status int

const (
	StatusReady Status = iota
	StatusConnecting
	StatusListening
	StatusProcessing
	StatusSpeaking
	StatusEnded
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusConnecting:
		return "connecting"
	case StatusListening:
		return "listening"
	case StatusProcessing:
		return "processing"
	case StatusSpeaking:
		return "speaking"
	case StatusEnded:
		return "ended"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Text is the user-facing label for the status indicator.
func (s Status) Text() string {
	switch s {
	case StatusReady:
		return "Gotowy do rozmowy"
	case StatusConnecting:
		return "Łączenie z asystentem..."
	case StatusListening:
		return "Słucham..."
	case StatusProcessing:
		return "Przetwarzanie..."
	case StatusSpeaking:
		return "Asystent odpowiada..."
	case StatusEnded:
		return "Rozmowa zakończona"
	case StatusError:
		return "Błąd połączenia"
	}
	return s.String()
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	Role    Role
	Text    string
	Pending bool
}

// View renders session state. Calls arrive from transport goroutines and
// must not block for long.
type View interface {
	StatusChanged(status Status)
	// MessageChanged reports a new message (created) or an update of the
	// message at index.
	MessageChanged(index int, msg Message, created bool)
}

type nopView struct{}

func (nopView) StatusChanged(Status)              {}
func (nopView) MessageChanged(int, Message, bool) {}

// Transcript is the conversation log shown to the user. At most one
// assistant message is pending at a time.
type Transcript struct {
	mu       sync.Mutex
	view     View
	messages []Message
	pending  int
}

func NewTranscript(view View) *Transcript {
	if view == nil {
		view = nopView{}
	}
	return &Transcript{view: view, pending: -1}
}

func (t *Transcript) Add(role Role, text string) {
	t.mu.Lock()
	msg := Message{Role: role, Text: text}
	t.messages = append(t.messages, msg)
	idx := len(t.messages) - 1
	t.mu.Unlock()
	t.view.MessageChanged(idx, msg, true)
}

// UpsertPending creates the pending assistant message or replaces its text.
func (t *Transcript) UpsertPending(text string) {
	t.mu.Lock()
	created := false
	if t.pending < 0 {
		t.messages = append(t.messages, Message{Role: RoleAssistant, Pending: true})
		t.pending = len(t.messages) - 1
		created = true
	}
	t.messages[t.pending].Text = text
	idx, msg := t.pending, t.messages[t.pending]
	t.mu.Unlock()
	t.view.MessageChanged(idx, msg, created)
}

// FinalizePending marks the pending assistant message as final.
func (t *Transcript) FinalizePending() {
	t.mu.Lock()
	if t.pending < 0 {
		t.mu.Unlock()
		return
	}
	t.messages[t.pending].Pending = false
	idx, msg := t.pending, t.messages[t.pending]
	t.pending = -1
	t.mu.Unlock()
	t.view.MessageChanged(idx, msg, false)
}

func (t *Transcript) SetStatus(s Status) {
	t.view.StatusChanged(s)
}

func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}
