// Package websocket carries lines over websocket messages.
package websocket

import (
	"strings"

	"golang.org/x/net/websocket"

	"github.com/robotalks/gstream/pkg/transport"
)

// ReadWriter implements LineReadWriter.
// A received message may hold several lines; each written line is sent
// as one message including the terminator.
type ReadWriter struct {
	Conn       *websocket.Conn
	Terminator string

	lines []string
}

// New wraps websocket.Conn.
func New(conn *websocket.Conn) *ReadWriter {
	return &ReadWriter{Conn: conn, Terminator: "\n"}
}

// Dial connects to a websocket URL.
func Dial(url, origin string) (*ReadWriter, error) {
	conn, err := websocket.Dial(url, "", origin)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// Open dials and wraps the connection as a stream.Transport.
func Open(url, origin string) (*transport.Conn, error) {
	rw, err := Dial(url, origin)
	if err != nil {
		return nil, err
	}
	return transport.NewConn(rw), nil
}

// ReadLine implements LineReader.
func (p *ReadWriter) ReadLine() (string, error) {
	for len(p.lines) == 0 {
		var msg string
		if err := websocket.Message.Receive(p.Conn, &msg); err != nil {
			return "", err
		}
		p.lines = splitLines(msg)
	}
	line := p.lines[0]
	p.lines = p.lines[1:]
	return line, nil
}

// WriteLine implements LineWriter.
func (p *ReadWriter) WriteLine(text string) error {
	return websocket.Message.Send(p.Conn, text+p.Terminator)
}

// Close implements io.Closer.
func (p *ReadWriter) Close() error {
	return p.Conn.Close()
}

func splitLines(msg string) []string {
	msg = strings.TrimSuffix(msg, "\n")
	lines := strings.Split(msg, "\n")
	for n, line := range lines {
		lines[n] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
