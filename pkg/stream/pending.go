package stream

// pendingList is the FIFO of Ordinary commands awaiting acknowledgment.
type pendingList struct {
	head *pendingCmd
	tail *pendingCmd
	size int
}

type pendingCmd struct {
	cmd  *Command
	next *pendingCmd
}

func (l *pendingList) push(cmd *Command) {
	p := &pendingCmd{cmd: cmd}
	if l.head == nil {
		l.head = p
	} else {
		l.tail.next = p
	}
	l.tail = p
	l.size++
}

func (l *pendingList) front() *Command {
	if l.head == nil {
		return nil
	}
	return l.head.cmd
}

func (l *pendingList) pop() *Command {
	p := l.head
	if p == nil {
		return nil
	}
	if l.head = p.next; l.head == nil {
		l.tail = nil
	}
	p.next = nil
	l.size--
	return p.cmd
}

func (l *pendingList) len() int {
	return l.size
}
