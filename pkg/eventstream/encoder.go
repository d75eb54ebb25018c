package eventstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Encoder writes events as frames. If the underlying writer is an
// http.Flusher every frame is flushed as soon as it is written.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

func NewEncoder(w io.Writer) *Encoder {
	f, _ := w.(http.Flusher)
	return &Encoder{w: w, flusher: f}
}

func (e *Encoder) Encode(evt Event) error {
	frame, err := Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// Marshal renders evt as a complete frame. JSON escapes newlines inside
// strings, so the payload never contains the terminator.
func Marshal(evt Event) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(Prefix) + len(payload) + len(Terminator))
	buf.WriteString(Prefix)
	buf.Write(payload)
	buf.WriteString(Terminator)
	return buf.Bytes(), nil
}
