package parser

import (
	"errors"
	"strings"
)

var ErrNoMessages = errors.New("no_hl7_messages")

// batchSegments wrap HL7 batches and are not part of any message.
var batchSegments = map[string]bool{"FHS": true, "BHS": true, "BTS": true, "FTS": true}

// Message is one HL7 v2 message. ControlID is MSH-10 when present.
type Message struct {
	Index     int
	ControlID string
	Body      string
}

// SplitHL7 splits content into messages, each starting at an MSH segment.
// Segment separators may be CR, LF or CRLF; bodies are normalized to CR.
func SplitHL7(content string) ([]Message, error) {
	normalized := strings.ReplaceAll(content, "\r\n", "\r")
	normalized = strings.ReplaceAll(normalized, "\n", "\r")

	var (
		messages []Message
		current  []string
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		messages = append(messages, Message{
			Index:     len(messages) + 1,
			ControlID: controlID(strings.TrimLeft(current[0], " \t")),
			Body:      strings.Join(current, "\r"),
		})
		current = nil
	}

	// Segment bytes are kept as received; message bodies are fingerprinted.
	for _, segment := range strings.Split(normalized, "\r") {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		name := strings.TrimLeft(segment, " \t")
		if len(name) > 3 {
			name = name[:3]
		}
		switch {
		case name == "MSH":
			flush()
			current = []string{segment}
		case batchSegments[name]:
			flush()
		case current == nil:
			return nil, errors.New("hl7 segment " + name + " found before MSH")
		default:
			current = append(current, segment)
		}
	}
	flush()

	if len(messages) == 0 {
		return nil, ErrNoMessages
	}
	return messages, nil
}

func controlID(msh string) string {
	if len(msh) < 4 {
		return ""
	}
	sep := string(msh[3])
	fields := strings.Split(msh, sep)
	// fields[0] is "MSH" and MSH-1 is the separator itself, so MSH-10 sits at 9.
	if len(fields) > 9 {
		return fields[9]
	}
	return ""
}
