// Package eventstream implements the framed event protocol used to deliver
// streamed answers: each event is a "data: " line carrying one JSON object,
// terminated by a blank line.
package eventstream

const (
	TypeStream   = "stream"
	TypeComplete = "complete"
	TypeError    = "error"
)

const (
	Prefix     = "data: "
	Terminator = "\n\n"
)

// Source is a retrieved document reference shown next to an answer.
type Source struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Link      string `json:"link"`
	ScoreText string `json:"scoreText"`
}

// Event is the tagged union carried by one frame. Only the fields relevant
// to Type are set.
type Event struct {
	Type           string   `json:"type"`
	Content        string   `json:"content,omitempty"`
	ConversationID string   `json:"conversationId,omitempty"`
	Sources        []Source `json:"sources,omitempty"`
	Message        string   `json:"message,omitempty"`
	Error          string   `json:"error,omitempty"`
	Code           string   `json:"code,omitempty"`
}

func Stream(content, conversationID string, sources []Source) Event {
	return Event{Type: TypeStream, Content: content, ConversationID: conversationID, Sources: sources}
}

func Complete(conversationID string) Event {
	return Event{Type: TypeComplete, ConversationID: conversationID, Message: "answer complete"}
}

func Error(msg, code string) Event {
	return Event{Type: TypeError, Error: msg, Code: code}
}

// Terminal reports whether no further events follow e in a well-formed stream.
func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}
