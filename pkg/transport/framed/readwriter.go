// Package framed reads/writes terminated text lines over a byte stream.
package framed

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// DefaultTerminator terminates written lines.
const DefaultTerminator = "\n"

const readChunkSize = 256

// ReadWriter implements LineReadWriter.
// Lines read are split on '\n' with any trailing '\r' removed.
type ReadWriter struct {
	io.ReadWriter
	Terminator string

	lock sync.Mutex
	buf  []byte
	// skip drops bytes up to the next '\n', the rest of a line
	// partially received before Flush.
	skip  bool
	err   error
	chunk []byte
}

// New creates a ReadWriter with io.ReadWriter.
func New(s io.ReadWriter) *ReadWriter {
	return &ReadWriter{
		ReadWriter: s,
		Terminator: DefaultTerminator,
		chunk:      make([]byte, readChunkSize),
	}
}

// ReadLine implements LineReader. It must not be called concurrently.
func (p *ReadWriter) ReadLine() (string, error) {
	for {
		p.lock.Lock()
		if line, ok := p.nextLine(); ok {
			p.lock.Unlock()
			return line, nil
		}
		if err := p.err; err != nil {
			line, partial := string(p.buf), len(p.buf) > 0 && !p.skip
			p.buf, p.skip = nil, false
			p.lock.Unlock()
			if partial && err == io.EOF {
				return strings.TrimRight(line, "\r"), nil
			}
			return "", err
		}
		p.lock.Unlock()

		n, err := p.ReadWriter.Read(p.chunk)
		p.lock.Lock()
		p.buf = append(p.buf, p.chunk[:n]...)
		if err != nil {
			p.err = err
		}
		p.lock.Unlock()
	}
}

func (p *ReadWriter) nextLine() (string, bool) {
	for {
		pos := bytes.IndexByte(p.buf, '\n')
		if pos < 0 {
			if p.skip {
				p.buf = p.buf[:0]
			}
			return "", false
		}
		line := string(p.buf[:pos])
		p.buf = p.buf[pos+1:]
		if p.skip {
			p.skip = false
			continue
		}
		return strings.TrimRight(line, "\r"), true
	}
}

// WriteLine implements LineWriter.
func (p *ReadWriter) WriteLine(text string) error {
	_, err := io.WriteString(p.ReadWriter, text+p.Terminator)
	return err
}

// Flush discards received bytes not read as lines yet, including a
// partially received line, and input buffered by the underlying stream
// if supported.
func (p *ReadWriter) Flush() error {
	p.lock.Lock()
	if n := len(p.buf); n > 0 {
		p.skip = p.buf[n-1] != '\n'
	}
	p.buf = nil
	p.lock.Unlock()
	if f, ok := p.ReadWriter.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close implements io.Closer.
func (p *ReadWriter) Close() error {
	if closer, ok := p.ReadWriter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
