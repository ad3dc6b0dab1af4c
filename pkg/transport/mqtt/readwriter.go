package mqtt

import (
	"io"
	"sync"

	"github.com/golang/glog"
)

// ReadWriter implements LineReadWriter, one message per line.
type ReadWriter struct {
	Queue    *Queue
	SubTopic string
	PubTopic string

	lineCh    chan *LineMsg
	done      chan struct{}
	closeOnce sync.Once
	sub       *Subscription
	seq       uint32
	peerSeq   uint32
	sendLock  sync.Mutex
}

// NewReadWriter creates the ReadWriter.
func NewReadWriter(q *Queue) *ReadWriter {
	return &ReadWriter{
		Queue:  q,
		lineCh: make(chan *LineMsg, 64),
		done:   make(chan struct{}),
	}
}

// WithTopics specifies the topics.
func (p *ReadWriter) WithTopics(sub, pub string) *ReadWriter {
	p.SubTopic, p.PubTopic = sub, pub
	return p
}

// ForClient sets topics for the streaming side:
// SubTopic = id/rx
// PubTopic = id/tx
func (p *ReadWriter) ForClient(id string) *ReadWriter {
	return p.WithTopics(id+"/rx", id+"/tx")
}

// ForBridge sets topics for the side owning the port:
// SubTopic = id/tx
// PubTopic = id/rx
func (p *ReadWriter) ForBridge(id string) *ReadWriter {
	return p.WithTopics(id+"/tx", id+"/rx")
}

// Start subscribes SubTopic. The Queue must be connected.
func (p *ReadWriter) Start() error {
	p.sub = p.Queue.Sub(p.SubTopic, Handler(p.handleMsg))
	p.sub.Token.Wait()
	return p.sub.Token.Error()
}

// ReadLine implements LineReader.
func (p *ReadWriter) ReadLine() (string, error) {
	for {
		select {
		case msg := <-p.lineCh:
			if p.accept(msg) {
				return msg.Text, nil
			}
		case <-p.done:
			return "", io.EOF
		}
	}
}

// accept tracks the peer sequence and rejects lines redelivered by
// QoS 1. Seq restarting from 1 means the peer restarted, unless only
// seq 1 was seen.
func (p *ReadWriter) accept(msg *LineMsg) bool {
	switch {
	case p.peerSeq == 0 || msg.Seq == p.peerSeq+1:
	case msg.Seq == 1 && p.peerSeq > 1:
		glog.Infof("%s: peer restarted after seq %d", p.SubTopic, p.peerSeq)
	case msg.Seq <= p.peerSeq:
		glog.V(2).Infof("%s: DUP %d %s", p.SubTopic, msg.Seq, msg.Text)
		return false
	default:
		glog.Warningf("%s: line seq %d after %d, lines lost", p.SubTopic, msg.Seq, p.peerSeq)
	}
	p.peerSeq = msg.Seq
	return true
}

// WriteLine implements LineWriter.
func (p *ReadWriter) WriteLine(text string) error {
	p.sendLock.Lock()
	defer p.sendLock.Unlock()
	payload, err := EncodeLine(p.seq+1, text)
	if err != nil {
		return err
	}
	token := p.Queue.Pub(p.PubTopic, payload)
	token.Wait()
	if err = token.Error(); err == nil {
		p.seq++
	}
	return err
}

// Flush discards received lines not read yet.
func (p *ReadWriter) Flush() error {
	for {
		select {
		case <-p.lineCh:
		default:
			return nil
		}
	}
}

// Close implements io.Closer. It doesn't close the Queue.
func (p *ReadWriter) Close() (err error) {
	p.closeOnce.Do(func() {
		close(p.done)
		if p.sub != nil {
			err = p.sub.Close()
		}
	})
	return
}

func (p *ReadWriter) handleMsg(topic string, payload []byte) {
	msg, err := DecodeLine(payload)
	if err != nil {
		glog.Warningf("%s: bad line: %v", topic, err)
		return
	}
	select {
	case p.lineCh <- msg:
	case <-p.done:
	}
}
