// Package transport adapts line oriented channels to stream.Transport.
package transport

// LineReader reads lines with terminators removed.
type LineReader interface {
	ReadLine() (string, error)
}

// LineWriter writes a line, appending the terminator.
type LineWriter interface {
	WriteLine(string) error
}

// LineReadWriter reads/writes lines.
type LineReadWriter interface {
	LineReader
	LineWriter
}

// Flusher discards input buffered below the line layer.
type Flusher interface {
	Flush() error
}
