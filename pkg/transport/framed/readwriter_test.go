package framed

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type bufferPort struct {
	io.Reader
	bytes.Buffer
	flushed bool
	closed  bool
}

func (p *bufferPort) Read(b []byte) (int, error) {
	return p.Reader.Read(b)
}

func (p *bufferPort) Flush() error {
	p.flushed = true
	return nil
}

func (p *bufferPort) Close() error {
	p.closed = true
	return nil
}

func TestReadLine(t *testing.T) {
	port := &bufferPort{Reader: strings.NewReader("Grbl 1.1f\r\nok\n\nerror:20\r\npartial")}
	rw := New(port)
	var lines []string
	for {
		line, err := rw.ReadLine()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
	require.Equal(t, []string{"Grbl 1.1f", "ok", "", "error:20", "partial"}, lines)
}

func TestWriteLine(t *testing.T) {
	port := &bufferPort{Reader: strings.NewReader("")}
	rw := New(port)
	require.NoError(t, rw.WriteLine("G0 X1"))
	require.NoError(t, rw.WriteLine(""))
	rw.Terminator = "\r\n"
	require.NoError(t, rw.WriteLine("\x18"))
	require.Equal(t, "G0 X1\n\n\x18\r\n", port.Buffer.String())
}

func TestFlushClose(t *testing.T) {
	port := &bufferPort{Reader: strings.NewReader("")}
	rw := New(port)
	require.NoError(t, rw.Flush())
	require.True(t, port.flushed)
	require.NoError(t, rw.Close())
	require.True(t, port.closed)
}

type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(b []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(b, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestFlushDiscards(t *testing.T) {
	testCases := []struct {
		name   string
		chunks []string
		first  string
		after  []string
	}{
		{
			name:   "partial line",
			chunks: []string{"Grbl 1.1h\r\n[MSG:'$H'|'$X' to unl", "ock]\r\nok\r\n"},
			first:  "Grbl 1.1h",
			after:  []string{"ok"},
		},
		{
			name:   "partial line over chunks",
			chunks: []string{"Grbl 1.1h\r\n[MSG:", "'$H'|'$X'", " to unlock]\r\nok\n"},
			first:  "Grbl 1.1h",
			after:  []string{"ok"},
		},
		{
			name:   "complete lines",
			chunks: []string{"Grbl 1.1h\r\n[MSG:'$H'|'$X' to unlock]\r\n", "ok\n"},
			first:  "Grbl 1.1h",
			after:  []string{"ok"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rw := New(struct {
				io.Reader
				io.Writer
			}{&chunkReader{chunks: tc.chunks}, io.Discard})
			line, err := rw.ReadLine()
			require.NoError(t, err)
			require.Equal(t, tc.first, line)
			require.NoError(t, rw.Flush())
			var lines []string
			for {
				line, err = rw.ReadLine()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				lines = append(lines, line)
			}
			require.Equal(t, tc.after, lines)
		})
	}
}
