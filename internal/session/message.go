package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Message kinds emitted by the backend or by the daemon itself.
const (
	TypeUser      = "user"
	TypeAssistant = "assistant"
	TypeSystem    = "system"
	TypeResult    = "result"
	TypeError     = "error"

	SubtypeInit = "init"
)

// Message is one decoded stream-json object. Raw holds the compacted source
// bytes and is what gets relayed to clients.
type Message struct {
	Type    string
	Subtype string
	Raw     json.RawMessage
}

var errNotObject = errors.New("line is not a JSON object")

// ParseMessage decodes one output line. Only the type and subtype fields are
// interpreted; the rest of the object is kept verbatim.
func ParseMessage(line []byte) (Message, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, errNotObject
	}
	var head struct {
		Type    string `json:"type"`
		Subtype string `json:"subtype"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return Message{}, err
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return Message{}, err
	}
	return Message{Type: head.Type, Subtype: head.Subtype, Raw: compact.Bytes()}, nil
}

// MarshalJSON relays the original object unchanged.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Raw) == 0 {
		return []byte("null"), nil
	}
	return m.Raw, nil
}

// IsTerminal reports whether m ends the response to one turn.
func (m Message) IsTerminal() bool {
	return m.Type == TypeResult || m.Type == TypeError
}

// IsInit reports whether m is the backend ready marker.
func (m Message) IsInit() bool {
	return m.Type == TypeSystem && m.Subtype == SubtypeInit
}

// Text extracts the human-readable payload: assistant text blocks, the
// result text, or the error description. Other kinds return "".
func (m Message) Text() string {
	switch m.Type {
	case TypeAssistant:
		var body struct {
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		}
		if json.Unmarshal(m.Raw, &body) != nil {
			return ""
		}
		return contentText(body.Message.Content)
	case TypeResult:
		var body struct {
			Result string `json:"result"`
		}
		if json.Unmarshal(m.Raw, &body) != nil {
			return ""
		}
		return body.Result
	case TypeError:
		var body struct {
			Error json.RawMessage `json:"error"`
		}
		if json.Unmarshal(m.Raw, &body) != nil {
			return ""
		}
		return errorText(body.Error)
	}
	return ""
}

func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var plain string
	if json.Unmarshal(raw, &plain) == nil {
		return plain
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &blocks) != nil {
		return ""
	}
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "")
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var plain string
	if json.Unmarshal(raw, &plain) == nil {
		return plain
	}
	var nested struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &nested) == nil && nested.Message != "" {
		return nested.Message
	}
	return string(raw)
}

// NewErrorMessage builds a daemon-originated error message.
func NewErrorMessage(text string) Message {
	raw, _ := json.Marshal(struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}{TypeError, text})
	return Message{Type: TypeError, Raw: raw}
}

func userEnvelope(content string) ([]byte, error) {
	type body struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	payload, err := json.Marshal(struct {
		Type    string `json:"type"`
		Message body   `json:"message"`
	}{Type: TypeUser, Message: body{Role: TypeUser, Content: content}})
	if err != nil {
		return nil, fmt.Errorf("encode user message: %w", err)
	}
	return append(payload, '\n'), nil
}
