package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptedTransport replays firmware replies computed from written lines.
type scriptedTransport struct {
	respond func(text string) []string

	lock    sync.Mutex
	ops     []string
	inbound []string
	closed  bool
}

func newScripted(respond func(string) []string, boot ...string) *scriptedTransport {
	return &scriptedTransport{respond: respond, inbound: boot}
}

// grbl replies "ok" to every non-empty Ordinary line and nothing to arcs.
func grbl(text string) []string {
	if text == "" || Classify(text) == ArcMotion {
		return nil
	}
	return []string{"ok"}
}

func (t *scriptedTransport) WriteLine(text string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return errors.New("closed")
	}
	t.ops = append(t.ops, "w:"+text)
	if t.respond != nil {
		t.inbound = append(t.inbound, t.respond(text)...)
	}
	return nil
}

func (t *scriptedTransport) ReadLine(timeout time.Duration) (string, error) {
	t.lock.Lock()
	if len(t.inbound) > 0 {
		line := t.inbound[0]
		t.inbound = t.inbound[1:]
		t.lock.Unlock()
		return line, nil
	}
	t.lock.Unlock()
	if timeout <= 0 || timeout > 10*time.Millisecond {
		timeout = time.Millisecond
	}
	time.Sleep(timeout)
	return "", ErrReadTimeout
}

func (t *scriptedTransport) FlushInbound() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.ops = append(t.ops, "flush")
	t.inbound = nil
	return nil
}

func (t *scriptedTransport) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.ops = append(t.ops, "close")
	t.closed = true
	return nil
}

func (t *scriptedTransport) push(lines ...string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.inbound = append(t.inbound, lines...)
}

func (t *scriptedTransport) opLog() []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]string(nil), t.ops...)
}

func (t *scriptedTransport) writes(text string) (n int) {
	for _, op := range t.opLog() {
		if op == "w:"+text {
			n++
		}
	}
	return
}

func (t *scriptedTransport) pendingInbound() []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]string(nil), t.inbound...)
}

func newTestSession(t Transport, lines ...string) *Session {
	s := NewSession(t, FromLines(lines))
	s.WakeSettle = time.Millisecond
	s.DrainTimeout = 20 * time.Millisecond
	s.PollInterval = 2 * time.Millisecond
	return s
}

type eventRecorder struct {
	lock   sync.Mutex
	events []Event
}

func (r *eventRecorder) HandleEvent(ctx context.Context, ev Event) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) count(typ EventType) (n int) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return
}

func TestStreamAllOK(t *testing.T) {
	lines := []string{"G21", "G90", "G0 X0 Y0", "G1 X10 F100", "M2"}
	tr := newScripted(grbl, "Grbl 1.1f ['$' for help]")
	s := newTestSession(tr, lines...)
	rec := &eventRecorder{}
	s.Handler = rec

	res, err := s.Stream(context.Background())
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, 5, res.Sent)
	require.Equal(t, 5, res.Ordinary)
	require.Equal(t, 5, res.Acked)
	require.Len(t, res.Outcomes, 5)
	for n, o := range res.Outcomes {
		require.Equal(t, n, o.Command.Index)
		require.Equal(t, lines[n], o.Command.Text)
		require.Equal(t, Success, o.Ack.Status)
	}
	require.Equal(t, 0, s.Outstanding())
	require.Equal(t, 1, rec.count(EventWoken))
	require.Equal(t, 5, rec.count(EventSent))
	require.Equal(t, 5, rec.count(EventAck))
	require.Equal(t, 1, rec.count(EventDrained))
}

func TestStreamWakeOnce(t *testing.T) {
	tr := newScripted(grbl, "Grbl 1.1f ['$' for help]", "[MSG:'$H'|'$X' to unlock]")
	s := newTestSession(tr, "G0 X1", "G0 X2")
	_, err := s.Stream(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Load(FromLines([]string{"G0 X3"})))
	res, err := s.Stream(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, res.Sent)
	require.Equal(t, []string{
		"w:", "w:", "flush",
		"w:G0 X1", "w:G0 X2", "w:G0 X3",
	}, tr.opLog())
	for _, o := range res.Outcomes {
		require.Equal(t, "ok", o.Ack.Text)
	}
}

func TestStreamNoCommands(t *testing.T) {
	tr := newScripted(grbl)
	s := newTestSession(tr)
	res, err := s.Stream(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{}, *res)
	require.Equal(t, []string{"w:", "w:", "flush"}, tr.opLog())
}

func TestStreamFailureContinues(t *testing.T) {
	tr := newScripted(func(text string) []string {
		if text == "G1 X" {
			return []string{"error: invalid"}
		}
		return grbl(text)
	})
	s := newTestSession(tr, "G0 X0", "G1 X", "G0 X1", "G0 X2")
	res, err := s.Stream(context.Background())
	require.NoError(t, err)
	require.False(t, res.OK())
	require.Equal(t, 4, res.Sent)
	require.Equal(t, 4, res.Acked)
	require.Equal(t, 1, res.Failures)
	require.Equal(t, Failure, res.Outcomes[1].Ack.Status)
	require.Equal(t, "error: invalid", res.Outcomes[1].Ack.Text)
	require.True(t, res.Outcomes[1].Failed())
	require.Equal(t, Success, res.Outcomes[2].Ack.Status)
	require.Equal(t, Success, res.Outcomes[3].Ack.Status)
}

func TestStreamHaltOnFailure(t *testing.T) {
	tr := newScripted(func(text string) []string {
		if text == "G1 X" {
			return []string{"error:2"}
		}
		return grbl(text)
	})
	s := newTestSession(tr, "G0 X0", "G1 X", "G0 X1")
	s.HaltOnFailure = true
	res, err := s.Stream(context.Background())
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	require.Equal(t, 1, rejected.Command.Index)
	require.Equal(t, "error:2", rejected.Ack.Text)
	require.Equal(t, 2, res.Sent)
	require.Equal(t, 0, tr.writes("G0 X1"))

	// resumes after the rejected command
	res, err = s.Stream(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, res.Sent)
	require.Equal(t, 1, tr.writes("G0 X1"))
	require.Equal(t, 1, tr.writes("G1 X"))
}

func TestStreamArcNotBlocking(t *testing.T) {
	tr := newScripted(grbl)
	s := newTestSession(tr, "G2 X10 Y0 I5 J0", "G1 X20")
	s.ReadTimeout = time.Second
	start := time.Now()
	res, err := s.Stream(context.Background())
	require.NoError(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, 2, res.Sent)
	require.Equal(t, 1, res.Arcs)
	require.Equal(t, 1, res.Ordinary)
	require.Equal(t, 1, res.Acked)
	require.Len(t, res.Outcomes, 1)
	require.Equal(t, 1, res.Outcomes[0].Command.Index)
	require.Equal(t, "ok", res.Outcomes[0].Ack.Text)
}

func TestStreamArcAcksAttributedFIFO(t *testing.T) {
	// the arc's reply arrives first and is taken by the next Ordinary command
	tr := newScripted(func(text string) []string {
		if Classify(text) == ArcMotion {
			return []string{"error:33"}
		}
		return grbl(text)
	})
	s := newTestSession(tr, "G3 X1 I1", "G1 X2")
	res, err := s.Stream(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Acked)
	require.Equal(t, 1, res.Failures)
	require.Equal(t, "G1 X2", res.Outcomes[0].Command.Text)
	require.Equal(t, "error:33", res.Outcomes[0].Ack.Text)
	require.Equal(t, []string{"ok"}, tr.pendingInbound())
}

func TestStreamOnlyArcs(t *testing.T) {
	tr := newScripted(grbl)
	s := newTestSession(tr, "G2 X1 I1", "G3 X0 I-1")
	res, err := s.Stream(context.Background())
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, 2, res.Arcs)
	require.Equal(t, 0, res.Acked)
	require.Empty(t, res.Outcomes)
}

func TestStreamSkipsEmptyAndPassthroughLines(t *testing.T) {
	tr := newScripted(func(text string) []string {
		if text == "$I" {
			return []string{"", "[VER:1.1f.20170801:]", "[OPT:V,15,128]", "ok"}
		}
		return grbl(text)
	})
	s := newTestSession(tr, "$I", "G0 X1")
	s.Passthrough = []string{"[", "<"}
	rec := &eventRecorder{}
	s.Handler = rec
	res, err := s.Stream(context.Background())
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, 2, res.Acked)
	require.Equal(t, 2, rec.count(EventMessage))
}

func TestStreamReadTimeoutResumes(t *testing.T) {
	tr := newScripted(func(text string) []string {
		if text == "G4 P1" {
			return nil
		}
		return grbl(text)
	})
	s := newTestSession(tr, "G0 X0", "G4 P1", "G0 X1")
	s.ReadTimeout = 20 * time.Millisecond
	res, err := s.Stream(context.Background())
	require.Error(t, err)
	require.True(t, IsTimeout(err))
	var readErr *ReadError
	require.True(t, errors.As(err, &readErr))
	require.Equal(t, 1, readErr.Command.Index)
	require.Equal(t, 2, res.Sent)
	require.Equal(t, 1, s.Outstanding())

	tr.push("ok")
	res, err = s.Stream(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, res.Sent)
	require.Equal(t, 3, res.Acked)
	require.Equal(t, 1, tr.writes("G4 P1"))
	require.Equal(t, "G4 P1", res.Outcomes[1].Command.Text)
}

func TestDrainGivesUp(t *testing.T) {
	tr := newScripted(func(string) []string { return nil })
	s := newTestSession(tr)
	s.ReadTimeout = 10 * time.Millisecond
	_, err := s.Send(context.Background(), "G1 X1")
	require.True(t, IsTimeout(err))
	require.NoError(t, s.Drain(context.Background()))
	res := s.Result()
	require.False(t, res.OK())
	require.Equal(t, 1, res.Unanswered)
	require.Equal(t, 0, res.Acked)
	require.Equal(t, ErrNoReply, res.Outcomes[0].Err)
	require.True(t, res.Outcomes[0].Failed())
	require.Equal(t, 0, s.Outstanding())
}

func TestSend(t *testing.T) {
	tr := newScripted(grbl)
	s := newTestSession(tr)
	o, err := s.Send(context.Background(), "$X")
	require.NoError(t, err)
	require.Equal(t, "ok", o.Ack.Text)
	require.Equal(t, 0, o.Command.Index)

	o, err = s.Send(context.Background(), "G2 X1 I1")
	require.NoError(t, err)
	require.Nil(t, o)

	o, err = s.Send(context.Background(), "G0 X0")
	require.NoError(t, err)
	require.Equal(t, 2, o.Command.Index)
	require.Equal(t, 3, s.Result().Sent)
	require.Equal(t, DefaultWakeLines, tr.writes(""), "wakes only once")
}

func TestFinish(t *testing.T) {
	tr := newScripted(grbl)
	s := newTestSession(tr, "G0 X1")
	rec := &eventRecorder{}
	s.Handler = rec
	_, err := s.Stream(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Finish(context.Background()))
	ops := tr.opLog()
	require.Equal(t, []string{"flush", "w:" + ResetCommand, "close"}, ops[len(ops)-3:])
	require.Equal(t, 1, rec.count(EventFinished))

	require.NoError(t, s.Finish(context.Background()))
	require.Equal(t, len(ops), len(tr.opLog()))

	_, err = s.Stream(context.Background())
	require.Equal(t, ErrFinished, err)
	_, err = s.Send(context.Background(), "G0")
	require.Equal(t, ErrFinished, err)
}

func TestFinishWithoutResetRecordsOutstanding(t *testing.T) {
	tr := newScripted(func(string) []string { return nil })
	s := newTestSession(tr)
	s.FinishCommand = ""
	s.ReadTimeout = 5 * time.Millisecond
	_, err := s.Send(context.Background(), "G1 X1")
	require.Error(t, err)
	require.NoError(t, s.Finish(context.Background()))
	require.Equal(t, 1, s.Result().Unanswered)
	require.Equal(t, 0, tr.writes(ResetCommand))
	require.True(t, strings.HasPrefix(tr.opLog()[len(tr.opLog())-2], "flush"))
}

func TestSessionBusyAndCancel(t *testing.T) {
	tr := newScripted(func(string) []string { return nil })
	s := newTestSession(tr, "G4 P100")
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Stream(ctx)
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		return tr.writes("G4 P100") == 1
	}, time.Second, time.Millisecond)

	_, err := s.Send(context.Background(), "G0")
	require.Equal(t, ErrBusy, err)
	require.Equal(t, ErrBusy, s.Finish(context.Background()))

	cancel()
	select {
	case err = <-errCh:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("stream not canceled")
	}
	require.Equal(t, 1, s.Outstanding())
}

func TestWakeCanceled(t *testing.T) {
	tr := newScripted(grbl)
	s := newTestSession(tr, "G0")
	s.WakeSettle = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, context.Canceled, s.Wake(ctx))
	require.Equal(t, 0, s.Result().Sent)
}

// blockingTransport blocks forever on a read without timeout.
type blockingTransport struct {
	scriptedTransport
	timeouts chan time.Duration
}

func (t *blockingTransport) ReadLine(timeout time.Duration) (string, error) {
	t.timeouts <- timeout
	if timeout <= 0 {
		select {}
	}
	time.Sleep(timeout)
	return "", ErrReadTimeout
}

func TestReadWithoutPollIntervalCancelable(t *testing.T) {
	tr := &blockingTransport{timeouts: make(chan time.Duration, 1024)}
	s := NewSession(tr, nil)
	s.WakeSettle = 0
	s.PollInterval = 0
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Send(ctx, "G4 P10")
		errCh <- err
	}()
	select {
	case err := <-errCh:
		require.True(t, errors.Is(err, context.DeadlineExceeded))
	case <-time.After(time.Second):
		t.Fatal("read not canceled")
	}
	close(tr.timeouts)
	for timeout := range tr.timeouts {
		require.Equal(t, DefaultPollInterval, timeout)
	}
}
