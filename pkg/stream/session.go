package stream

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/gstream/pkg/framework"
)

// Defaults of Session.
const (
	DefaultWakeLines    = 2
	DefaultWakeSettle   = 2 * time.Second
	DefaultDrainTimeout = 1 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	// ResetCommand is the GRBL soft reset (ctrl-x), sent by Finish.
	ResetCommand = "\x18"
)

// Session streams commands from a Source over a Transport.
type Session struct {
	Transport Transport
	Handler   EventHandler

	// WakeLines is the number of empty lines written to wake the firmware.
	WakeLines int
	// WakeSettle is the pause after waking before discarding boot text.
	WakeSettle time.Duration
	// ReadTimeout bounds the wait for an Ordinary acknowledgment, 0 waits forever.
	ReadTimeout time.Duration
	// DrainTimeout is the grace per read when draining.
	DrainTimeout time.Duration
	// PollInterval is the slice of a blocking read between cancellation checks.
	PollInterval time.Duration
	// HaltOnFailure stops streaming at the first rejected command.
	HaltOnFailure bool
	// KeepOutcomes keeps every (Command, Ack) pair in Result.
	KeepOutcomes bool
	// FinishCommand is written by Finish before closing, empty for none.
	FinishCommand string
	// Passthrough prefixes mark firmware lines which are not acknowledgments.
	Passthrough []string

	source    Source
	pending   pendingList
	woken     bool
	exhausted bool
	finished  bool
	lock      sync.Mutex

	result     Result
	resultLock sync.Mutex
}

// NewSession creates a Session with defaults. src may be nil when only
// Send is used.
func NewSession(t Transport, src Source) *Session {
	return &Session{
		Transport:     t,
		WakeLines:     DefaultWakeLines,
		WakeSettle:    DefaultWakeSettle,
		DrainTimeout:  DefaultDrainTimeout,
		PollInterval:  DefaultPollInterval,
		KeepOutcomes:  true,
		FinishCommand: ResetCommand,
		source:        src,
	}
}

// Result returns a snapshot of the cumulative result.
func (s *Session) Result() *Result {
	s.resultLock.Lock()
	defer s.resultLock.Unlock()
	r := s.result
	r.Outcomes = append([]Outcome(nil), s.result.Outcomes...)
	return &r
}

// Outstanding returns the number of Ordinary commands awaiting acknowledgment.
func (s *Session) Outstanding() int {
	r := s.Result()
	return r.Ordinary - r.Acked - r.Unanswered
}

// Wake performs the wake sequence if not done yet.
func (s *Session) Wake(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.lock.Unlock()
	return s.wake(ctx)
}

// Stream sends all remaining commands of the source and drains.
// It resumes from the cursor when called again after an error.
func (s *Session) Stream(ctx context.Context) (*Result, error) {
	if err := s.acquire(); err != nil {
		return s.Result(), err
	}
	defer s.lock.Unlock()
	if err := s.wake(ctx); err != nil {
		return s.Result(), err
	}
	if _, err := s.awaitOutstanding(ctx); err != nil {
		return s.Result(), err
	}
	for s.source != nil && !s.exhausted {
		cmd, err := s.source.Next()
		if err == io.EOF {
			s.exhausted = true
			break
		}
		if err != nil {
			return s.Result(), err
		}
		if _, err = s.process(ctx, cmd); err != nil {
			return s.Result(), err
		}
	}
	if err := s.drain(ctx); err != nil {
		return s.Result(), err
	}
	r := s.Result()
	glog.Infof("stream done: sent %d (%d arcs), acked %d, failures %d", r.Sent, r.Arcs, r.Acked, r.Failures)
	return r, nil
}

// Load replaces the Source, keeping the cumulative Result. Commands
// still outstanding are awaited by the next Stream.
func (s *Session) Load(src Source) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.lock.Unlock()
	s.source, s.exhausted = src, false
	return nil
}

// Send sends one ad-hoc command through the same protocol.
// The Outcome is nil for ArcMotion commands.
func (s *Session) Send(ctx context.Context, text string) (*Outcome, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.lock.Unlock()
	if err := s.wake(ctx); err != nil {
		return nil, err
	}
	if _, err := s.awaitOutstanding(ctx); err != nil {
		return nil, err
	}
	s.resultLock.Lock()
	index := s.result.Sent
	s.resultLock.Unlock()
	return s.process(ctx, NewCommand(index, text))
}

// Drain reads acknowledgments until every Ordinary command has one.
func (s *Session) Drain(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.lock.Unlock()
	return s.drain(ctx)
}

// Finish discards unread input, writes the FinishCommand and closes
// the Transport. Commands still outstanding are recorded as unanswered.
func (s *Session) Finish(ctx context.Context) error {
	if !s.lock.TryLock() {
		return ErrBusy
	}
	defer s.lock.Unlock()
	if s.finished {
		return nil
	}
	s.finished = true
	s.giveUp()
	var errs fx.AggregatedError
	errs.Add(s.Transport.FlushInbound())
	if s.FinishCommand != "" {
		errs.Add(s.Transport.WriteLine(s.FinishCommand))
	}
	errs.Add(s.Transport.Close())
	glog.Info("session finished")
	s.notify(ctx, Event{Type: EventFinished})
	return errs.Aggregate()
}

func (s *Session) acquire() error {
	if !s.lock.TryLock() {
		return ErrBusy
	}
	if s.finished {
		s.lock.Unlock()
		return ErrFinished
	}
	return nil
}

func (s *Session) wake(ctx context.Context) error {
	if s.woken {
		return nil
	}
	glog.Info("waking up firmware")
	for i := 0; i < s.WakeLines; i++ {
		if err := s.Transport.WriteLine(""); err != nil {
			return &WriteError{Err: err}
		}
	}
	if s.WakeSettle > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.WakeSettle):
		}
	}
	if err := s.Transport.FlushInbound(); err != nil {
		return err
	}
	s.woken = true
	s.notify(ctx, Event{Type: EventWoken})
	return nil
}

func (s *Session) process(ctx context.Context, cmd *Command) (*Outcome, error) {
	if err := s.Transport.WriteLine(cmd.Text); err != nil {
		return nil, &WriteError{Command: cmd, Err: err}
	}
	glog.V(2).Infof("TX %s", cmd.Text)
	s.resultLock.Lock()
	s.result.Sent++
	if cmd.Kind == ArcMotion {
		s.result.Arcs++
	} else {
		s.result.Ordinary++
	}
	s.resultLock.Unlock()
	s.notify(ctx, Event{Type: EventSent, Command: cmd})
	if cmd.Kind == ArcMotion {
		return nil, nil
	}
	s.pending.push(cmd)
	return s.awaitOutstanding(ctx)
}

func (s *Session) awaitOutstanding(ctx context.Context) (o *Outcome, err error) {
	for s.pending.len() > 0 {
		if o, err = s.awaitAck(ctx, s.ReadTimeout); err != nil {
			return
		}
		if s.HaltOnFailure && !o.Ack.OK() {
			return o, &RejectedError{Command: o.Command, Ack: o.Ack}
		}
	}
	return
}

func (s *Session) awaitAck(ctx context.Context, timeout time.Duration) (*Outcome, error) {
	line, err := s.readAck(ctx, timeout)
	if err != nil {
		if err == context.Canceled || err == context.DeadlineExceeded {
			return nil, err
		}
		return nil, &ReadError{Command: s.pending.front(), Err: err}
	}
	o := Outcome{Command: s.pending.pop(), Ack: ParseAck(line)}
	s.record(o)
	if !o.Ack.OK() {
		glog.Warningf("command %d %q rejected: %s", o.Command.Index, o.Command.Text, o.Ack.Text)
	}
	s.notify(ctx, Event{Type: EventAck, Command: o.Command, Ack: o.Ack})
	return &o, nil
}

func (s *Session) readAck(ctx context.Context, timeout time.Duration) (string, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		line, err := s.readLine(ctx, deadline)
		if err != nil {
			return "", err
		}
		glog.V(2).Infof("RX %s", line)
		text := TrimLine(line)
		if text == "" {
			continue
		}
		if hasAnyPrefix(text, s.Passthrough) {
			s.notify(ctx, Event{Type: EventMessage, Line: text})
			continue
		}
		return text, nil
	}
}

func (s *Session) readLine(ctx context.Context, deadline time.Time) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		slice := s.PollInterval
		if slice <= 0 {
			slice = DefaultPollInterval
		}
		if !deadline.IsZero() {
			remain := time.Until(deadline)
			if remain <= 0 {
				return "", ErrReadTimeout
			}
			if remain < slice {
				slice = remain
			}
		}
		line, err := s.Transport.ReadLine(slice)
		if err == nil {
			return line, nil
		}
		if !IsTimeout(err) {
			return "", err
		}
	}
}

func (s *Session) drain(ctx context.Context) error {
	for s.pending.len() > 0 {
		_, err := s.awaitAck(ctx, s.DrainTimeout)
		if err == nil {
			continue
		}
		if !IsTimeout(err) {
			return err
		}
		glog.Warningf("drain timeout, %d commands unanswered", s.pending.len())
		s.giveUp()
	}
	s.notify(ctx, Event{Type: EventDrained})
	return nil
}

func (s *Session) giveUp() {
	for cmd := s.pending.pop(); cmd != nil; cmd = s.pending.pop() {
		s.record(Outcome{Command: cmd, Err: ErrNoReply})
	}
}

func (s *Session) record(o Outcome) {
	s.resultLock.Lock()
	defer s.resultLock.Unlock()
	switch {
	case o.Err != nil:
		s.result.Unanswered++
	case o.Ack.OK():
		s.result.Acked++
	default:
		s.result.Acked++
		s.result.Failures++
	}
	if s.KeepOutcomes {
		s.result.Outcomes = append(s.result.Outcomes, o)
	}
}

func (s *Session) notify(ctx context.Context, ev Event) {
	if h := s.Handler; h != nil {
		h.HandleEvent(ctx, ev)
	}
}
