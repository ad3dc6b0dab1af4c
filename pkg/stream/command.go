package stream

import (
	"bufio"
	"io"
	"strings"
)

// Kind classifies a command by the response cadence it gets.
type Kind int

const (
	// Ordinary commands get exactly one acknowledgment.
	Ordinary Kind = iota
	// ArcMotion commands (circular/helical interpolation) may produce
	// zero or many acknowledgments uncorrelated with their transmission.
	ArcMotion
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Ordinary:
		return "ordinary"
	case ArcMotion:
		return "arc"
	}
	return "unknown"
}

// Command is one line to be sent. It is immutable after creation.
type Command struct {
	// Index is the 0-based position in the sequence.
	Index int
	// Raw is the line as read, terminators included.
	Raw string
	// Text is Raw with line terminators removed.
	Text string
	Kind Kind
}

// NewCommand creates a Command and classifies it.
func NewCommand(index int, raw string) *Command {
	text := TrimLine(raw)
	return &Command{Index: index, Raw: raw, Text: text, Kind: Classify(text)}
}

// TrimLine removes line terminators and surrounding blanks.
func TrimLine(s string) string {
	return strings.TrimSpace(s)
}

// Classify decides the Kind from the leading word of a command.
// An optional line number word (N123) is skipped first.
func Classify(text string) Kind {
	s := strings.TrimSpace(text)
	if len(s) > 0 && (s[0] == 'N' || s[0] == 'n') {
		i := 1
		for i < len(s) && isDigit(s[i]) {
			i++
		}
		if i > 1 {
			s = strings.TrimLeft(s[i:], " \t")
		}
	}
	if len(s) < 2 || (s[0] != 'G' && s[0] != 'g') {
		return Ordinary
	}
	i, val := 1, 0
	for i < len(s) && isDigit(s[i]) {
		val = val*10 + int(s[i]-'0')
		if val > 3 {
			return Ordinary
		}
		i++
	}
	if i == 1 {
		return Ordinary
	}
	if i < len(s) && s[i] == '.' {
		return Ordinary
	}
	if val == 2 || val == 3 {
		return ArcMotion
	}
	return Ordinary
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// Source provides commands in sequence order.
// Next returns io.EOF after the last command.
type Source interface {
	Next() (*Command, error)
}

// Reader is a Source splitting an io.Reader into lines.
type Reader struct {
	r     *bufio.Reader
	index int
	done  bool
}

// NewReader creates a Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next implements Source.
func (r *Reader) Next() (*Command, error) {
	if r.done {
		return nil, io.EOF
	}
	line, err := r.r.ReadString('\n')
	if err != nil {
		if err != io.EOF {
			return nil, err
		}
		r.done = true
		if line == "" {
			return nil, io.EOF
		}
	}
	cmd := NewCommand(r.index, line)
	r.index++
	return cmd, nil
}

type lineSource struct {
	lines []string
	index int
}

// FromLines creates a Source over a fixed list of lines.
func FromLines(lines []string) Source {
	return &lineSource{lines: lines}
}

func (s *lineSource) Next() (*Command, error) {
	if s.index >= len(s.lines) {
		return nil, io.EOF
	}
	cmd := NewCommand(s.index, s.lines[s.index])
	s.index++
	return cmd, nil
}

// ReadLines reads all lines for callers needing the total up front.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	src := NewReader(r)
	for {
		cmd, err := src.Next()
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
		lines = append(lines, cmd.Raw)
	}
}
