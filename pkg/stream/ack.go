package stream

import "strings"

// AckStatus classifies an acknowledgment.
type AckStatus int

const (
	// Success is the literal "ok".
	Success AckStatus = iota
	// Failure is any other non-empty line, conventionally "error:N".
	Failure
)

// String implements fmt.Stringer.
func (s AckStatus) String() string {
	if s == Success {
		return "success"
	}
	return "failure"
}

// SuccessToken is the acknowledgment for an accepted command.
const SuccessToken = "ok"

// Ack is a single response line.
type Ack struct {
	Text   string
	Status AckStatus
}

// OK indicates the command was accepted.
func (a Ack) OK() bool {
	return a.Status == Success
}

// ParseAck classifies a trimmed response line.
func ParseAck(line string) Ack {
	text := TrimLine(line)
	if text == SuccessToken {
		return Ack{Text: text, Status: Success}
	}
	return Ack{Text: text, Status: Failure}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
