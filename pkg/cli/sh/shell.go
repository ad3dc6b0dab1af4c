package sh

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"
	"github.com/pterm/pterm"

	"github.com/robotalks/gstream/pkg/cli/progress"
	"github.com/robotalks/gstream/pkg/env"
	fx "github.com/robotalks/gstream/pkg/framework"
	"github.com/robotalks/gstream/pkg/stream"
	"github.com/robotalks/gstream/pkg/transport/mqtt"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool

	Shell   *ishell.Shell
	Config  *env.Config
	Session *stream.Session

	ctx    context.Context
	bar    *progress.Bar
	failed bool
}

const (
	shellKey     = "$shell"
	closedPrompt = "[none] > "
	pauseMessage = "Press <Enter> to exit and disable grbl."
)

// ErrCommandsFailed is returned by Run when any command was rejected or
// left unanswered.
var ErrCommandsFailed = errors.New("commands failed")

var errNoArgument = errors.New("argument expected")

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&OpenCmd,
		&WakeCmd,
		&StreamCmd,
		&SendCmd,
		&DrainCmd,
		&StatusCmd,
		&FinishCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
		ctx:    context.Background(),
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(closedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// Open opens the port and creates the Session if not yet.
func (s *Shell) Open() (*stream.Session, error) {
	if s.Session != nil {
		return s.Session, nil
	}
	t, err := s.Config.Open(s.ctx)
	if err != nil {
		return nil, err
	}
	s.Session = s.Config.NewSession(t, nil)
	s.Session.Handler = stream.HandleEventFunc(s.handleEvent)
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", s.Config.PortURL))
	return s.Session, nil
}

// Finish finishes the current Session.
func (s *Shell) Finish() error {
	if s.Session == nil {
		return nil
	}
	err := s.Session.Finish(s.ctx)
	s.Session = nil
	s.Shell.SetPrompt(closedPrompt)
	return err
}

// StreamFile streams all lines from a file.
func (s *Shell) StreamFile(fn string) (*stream.Result, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	lines, err := stream.ReadLines(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	sess, err := s.Open()
	if err != nil {
		return nil, err
	}
	if err = sess.Load(stream.FromLines(lines)); err != nil {
		return nil, err
	}
	s.bar = progress.NewBar(fn, len(lines))
	defer func() {
		s.bar.Stop()
		s.bar = nil
	}()
	res, err := sess.Stream(s.ctx)
	s.checkResult(res)
	return res, err
}

// DiscoverBridges lists bridges registered on the broker.
func (s *Shell) DiscoverBridges() ([]mqtt.BridgeInfo, error) {
	return mqtt.Discover(s.ctx, s.Config.BrokerURL, mqtt.DefaultDiscoverTimeout)
}

// SelectBridge discovers bridges and asks for a choice.
func (s *Shell) SelectBridge() (*mqtt.BridgeInfo, error) {
	infoList, err := s.DiscoverBridges()
	if err != nil {
		return nil, err
	}
	if len(infoList) == 0 {
		return nil, nil
	}
	var index int
	if len(infoList) > 1 {
		if !s.Interactive {
			return nil, fmt.Errorf("more than 1 bridges discovered in non-interactive mode")
		}
		items := make([]string, len(infoList))
		for n, info := range infoList {
			items[n] = FormatBridge(info)
		}
		index = s.Shell.MultiChoice(items, "Which one to open?")
	}
	return &infoList[index], nil
}

// FormatBridge prints BridgeInfo into friendly string for display.
func FormatBridge(info mqtt.BridgeInfo) string {
	str := info.ID
	if info.Meta.Description != "" {
		str += ": " + info.Meta.Description
	}
	if info.Meta.Device != "" {
		str += " (" + info.Meta.Device + ")"
	}
	return str
}

// Run runs the shell. Commands in args are processed instead of the
// interactive loop. The Session is finished before returning.
func (s *Shell) Run(ctx context.Context, args ...string) error {
	s.ctx = ctx
	defer func() {
		if err := s.Finish(); err != nil {
			glog.Warningf("finish: %v", err)
		}
	}()
	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			return err
		}
	} else if s.Interactive {
		s.Shell.Run()
	} else {
		return fmt.Errorf("command expected")
	}
	if s.failed {
		return ErrCommandsFailed
	}
	return nil
}

func (s *Shell) handleEvent(ctx context.Context, ev stream.Event) {
	if s.bar != nil {
		s.bar.HandleEvent(ctx, ev)
		return
	}
	if ev.Type == stream.EventMessage {
		pterm.Info.Println(ev.Line)
	}
}

func (s *Shell) checkResult(r *stream.Result) {
	if r != nil && !r.OK() {
		s.failed = true
	}
}

func (s *Shell) printResult(c *ishell.Context, r *stream.Result) {
	if !s.OutputJSON {
		progress.PrintSummary(r)
		return
	}
	out, err := json.Marshal(NewResultSummary(r))
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(string(out))
}

// ResultSummary is the serializable form of stream.Result.
type ResultSummary struct {
	Sent       int              `json:"sent"`
	Arcs       int              `json:"arcs"`
	Acked      int              `json:"acked"`
	Failures   int              `json:"failures"`
	Unanswered int              `json:"unanswered"`
	Failed     []FailureSummary `json:"failed,omitempty"`
}

// FailureSummary is a failed command in ResultSummary.
type FailureSummary struct {
	Line    int    `json:"line"`
	Command string `json:"command"`
	Reply   string `json:"reply"`
}

// NewResultSummary creates ResultSummary from a Result.
func NewResultSummary(r *stream.Result) *ResultSummary {
	sum := &ResultSummary{
		Sent:       r.Sent,
		Arcs:       r.Arcs,
		Acked:      r.Acked,
		Failures:   r.Failures,
		Unanswered: r.Unanswered,
	}
	for _, o := range r.Outcomes {
		if !o.Failed() {
			continue
		}
		f := FailureSummary{Line: o.Command.Index + 1, Command: o.Command.Text, Reply: o.Ack.Text}
		if o.Err != nil {
			f.Reply = o.Err.Error()
		}
		sum.Failed = append(sum.Failed, f)
	}
	return sum
}

func (s *Shell) pause(c *ishell.Context) {
	if !s.Interactive {
		return
	}
	c.ShowPrompt(false)
	defer c.ShowPrompt(true)
	c.Print(pauseMessage)
	c.ReadLine()
}

var (
	// DiscoverCmd discovers bridges.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "list bridges on the MQTT broker",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			infoList, err := s.DiscoverBridges()
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if len(infoList) == 0 {
					// in case infoList is nil, make it empty slice.
					infoList = []mqtt.BridgeInfo{}
				}
				out, err := json.Marshal(infoList)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			if len(infoList) == 0 {
				c.Println("No bridges found")
				return
			}
			for _, info := range infoList {
				c.Println(FormatBridge(info))
			}
		},
	}

	// OpenCmd opens a port.
	OpenCmd = ishell.Cmd{
		Name:    "open",
		Aliases: []string{"o"},
		Help:    "[PORT-URL|BRIDGE-ID]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if err := s.Finish(); err != nil {
				c.Err(err)
			}
			switch {
			case len(c.Args) > 0 && strings.ContainsAny(c.Args[0], "/:"):
				s.Config.PortURL = c.Args[0]
			case len(c.Args) > 0:
				s.Config.PortURL = s.Config.BridgeURL(c.Args[0])
			case s.Config.PortURL == "":
				info, err := s.SelectBridge()
				if err != nil {
					c.Err(err)
					return
				}
				if info == nil {
					c.Err(fmt.Errorf("no bridge discovered"))
					return
				}
				s.Config.PortURL = s.Config.BridgeURL(info.ID)
			}
			if _, err := s.Open(); err != nil {
				c.Err(err)
			}
		},
	}

	// WakeCmd wakes up the firmware.
	WakeCmd = ishell.Cmd{
		Name:    "wake",
		Aliases: []string{"w"},
		Help:    "wake up the firmware",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			sess, err := s.Open()
			if err != nil {
				c.Err(err)
				return
			}
			if err = sess.Wake(s.ctx); err != nil {
				c.Err(err)
			}
		},
	}

	// StreamCmd streams a file.
	StreamCmd = ishell.Cmd{
		Name:    "stream",
		Aliases: []string{"s"},
		Help:    "FILE",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) != 1 {
				c.Err(errNoArgument)
				return
			}
			res, err := s.StreamFile(c.Args[0])
			if res != nil {
				s.printResult(c, res)
			}
			if err != nil {
				s.failed = true
				c.Err(err)
			}
			s.pause(c)
			if err = s.Finish(); err != nil {
				c.Err(err)
			}
		},
	}

	// SendCmd sends a single command.
	SendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"!"},
		Help:    "LINE...",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) == 0 {
				c.Err(errNoArgument)
				return
			}
			sess, err := s.Open()
			if err != nil {
				c.Err(err)
				return
			}
			o, err := sess.Send(s.ctx, strings.Join(c.Args, " "))
			if err != nil {
				s.failed = true
				c.Err(err)
				return
			}
			if o == nil {
				c.Println("sent")
				return
			}
			if o.Failed() {
				s.failed = true
			}
			c.Println(o.Ack.Text)
		},
	}

	// DrainCmd waits for outstanding replies.
	DrainCmd = ishell.Cmd{
		Name: "drain",
		Help: "wait for outstanding replies",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if s.Session == nil {
				c.Err(fmt.Errorf("not opened"))
				return
			}
			if err := s.Session.Drain(s.ctx); err != nil {
				c.Err(err)
			}
			s.checkResult(s.Session.Result())
		},
	}

	// StatusCmd prints the cumulative result.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "print streaming result",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if s.Session == nil {
				c.Err(fmt.Errorf("not opened"))
				return
			}
			s.printResult(c, s.Session.Result())
			if !s.OutputJSON {
				c.Printf("outstanding: %d\n", s.Session.Outstanding())
			}
		},
	}

	// FinishCmd resets the firmware and closes the port.
	FinishCmd = ishell.Cmd{
		Name:    "finish",
		Aliases: []string{"close"},
		Help:    "reset the firmware and close the port",
		Func: func(c *ishell.Context) {
			if err := ShellFrom(c).Finish(); err != nil {
				c.Err(err)
			}
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	s := New(env.Default())
	err := fx.NewRunner().HandleSignals().Go(fx.RunFunc(func(ctx context.Context) error {
		return s.Run(ctx, flag.Args()...)
	})).Wait()
	glog.Flush()
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
