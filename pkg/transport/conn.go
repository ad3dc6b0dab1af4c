package transport

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/gstream/pkg/stream"
)

// DefaultQueueSize is the number of received lines buffered by Conn.
const DefaultQueueSize = 64

// Conn implements stream.Transport on a LineReadWriter.
// A background reader keeps receiving so a read timeout never loses
// a partially received line.
type Conn struct {
	ReadWriter LineReadWriter

	lineCh    chan queuedLine
	flushGen  atomic.Uint64
	readDone  chan struct{}
	readErr   error
	closed    chan struct{}
	closeOnce sync.Once
	sendLock  sync.Mutex
}

// queuedLine is a received line tagged with the flush generation it
// was received in.
type queuedLine struct {
	text string
	gen  uint64
}

// NewConn creates a Conn and starts receiving.
func NewConn(rw LineReadWriter) *Conn {
	c := &Conn{
		ReadWriter: rw,
		lineCh:     make(chan queuedLine, DefaultQueueSize),
		readDone:   make(chan struct{}),
		closed:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.readDone)
	for {
		line, err := c.ReadWriter.ReadLine()
		if err != nil {
			select {
			case <-c.closed:
			default:
				glog.Warningf("read loop stopped: %v", err)
			}
			c.readErr = err
			return
		}
		select {
		case c.lineCh <- queuedLine{text: line, gen: c.flushGen.Load()}:
		case <-c.closed:
			c.readErr = io.ErrClosedPipe
			return
		}
	}
}

// WriteLine implements stream.Transport.
func (c *Conn) WriteLine(text string) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	return c.ReadWriter.WriteLine(text)
}

// ReadLine implements stream.Transport.
func (c *Conn) ReadLine(timeout time.Duration) (string, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	for {
		select {
		case line := <-c.lineCh:
			if c.isCurrent(line) {
				return line.text, nil
			}
		case <-c.readDone:
			for {
				select {
				case line := <-c.lineCh:
					if c.isCurrent(line) {
						return line.text, nil
					}
				default:
					return "", c.readErr
				}
			}
		case <-timer:
			return "", stream.ErrReadTimeout
		case <-c.closed:
			return "", io.ErrClosedPipe
		}
	}
}

func (c *Conn) isCurrent(line queuedLine) bool {
	if line.gen == c.flushGen.Load() {
		return true
	}
	glog.V(2).Infof("FLUSH %s", line.text)
	return false
}

// FlushInbound implements stream.Transport. Lines received before the
// call, including one still held by the reader, are discarded.
func (c *Conn) FlushInbound() (err error) {
	if f, ok := c.ReadWriter.(Flusher); ok {
		err = f.Flush()
	}
	c.flushGen.Add(1)
	var n int
	for {
		select {
		case line := <-c.lineCh:
			glog.V(2).Infof("FLUSH %s", line.text)
			n++
		default:
			if n > 0 {
				glog.V(1).Infof("discarded %d lines", n)
			}
			return
		}
	}
}

// Close implements stream.Transport.
func (c *Conn) Close() (err error) {
	c.closeOnce.Do(func() {
		close(c.closed)
		if closer, ok := c.ReadWriter.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return
}
