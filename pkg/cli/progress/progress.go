// Package progress renders streaming progress on the terminal.
package progress

import (
	"context"
	"fmt"
	"strconv"

	"github.com/golang/glog"
	"github.com/pterm/pterm"

	"github.com/robotalks/gstream/pkg/stream"
)

// Bar is a stream.EventHandler showing a progress bar.
type Bar struct {
	Title string
	Total int
	// Quiet suppresses firmware messages and rejections.
	Quiet bool

	bar *pterm.ProgressbarPrinter
}

// NewBar creates a Bar for total commands.
func NewBar(title string, total int) *Bar {
	return &Bar{Title: title, Total: total}
}

// HandleEvent implements stream.EventHandler.
func (b *Bar) HandleEvent(ctx context.Context, ev stream.Event) {
	switch ev.Type {
	case stream.EventWoken:
		b.start()
	case stream.EventSent:
		if b.bar == nil {
			b.start()
		}
		if b.bar != nil {
			b.bar.Increment()
		}
	case stream.EventAck:
		if !ev.Ack.OK() && !b.Quiet {
			pterm.Warning.Printfln("line %d %q: %s", ev.Command.Index+1, ev.Command.Text, ev.Ack.Text)
		}
	case stream.EventMessage:
		if !b.Quiet {
			pterm.Info.Println(ev.Line)
		}
	case stream.EventDrained, stream.EventFinished:
		b.Stop()
	}
}

// Stop removes the progress bar.
func (b *Bar) Stop() {
	if b.bar == nil {
		return
	}
	if _, err := b.bar.Stop(); err != nil {
		glog.Warningf("stop progress bar: %v", err)
	}
	b.bar = nil
}

func (b *Bar) start() {
	if b.Total <= 0 || b.bar != nil {
		return
	}
	bar, err := pterm.DefaultProgressbar.WithTotal(b.Total).WithTitle(b.Title).Start()
	if err != nil {
		glog.Warningf("start progress bar: %v", err)
		return
	}
	b.bar = bar
}

// SummaryData formats the counters of a Result as table rows.
func SummaryData(r *stream.Result) pterm.TableData {
	return pterm.TableData{
		{"Sent", strconv.Itoa(r.Sent)},
		{"Arcs", strconv.Itoa(r.Arcs)},
		{"Acked", strconv.Itoa(r.Acked)},
		{"Failures", strconv.Itoa(r.Failures)},
		{"Unanswered", strconv.Itoa(r.Unanswered)},
	}
}

// FailureData lists failed outcomes as table rows with a header.
func FailureData(r *stream.Result) pterm.TableData {
	data := pterm.TableData{{"Line", "Command", "Reply"}}
	for _, o := range r.Outcomes {
		if !o.Failed() {
			continue
		}
		reply := o.Ack.Text
		if o.Err != nil {
			reply = o.Err.Error()
		}
		data = append(data, []string{fmt.Sprintf("%d", o.Command.Index+1), o.Command.Text, reply})
	}
	return data
}

// PrintSummary renders the Result.
func PrintSummary(r *stream.Result) {
	if err := pterm.DefaultTable.WithHasHeader(false).WithData(SummaryData(r)).Render(); err != nil {
		glog.Warningf("render summary: %v", err)
	}
	if failures := FailureData(r); len(failures) > 1 {
		if err := pterm.DefaultTable.WithHasHeader(true).WithData(failures).Render(); err != nil {
			glog.Warningf("render failures: %v", err)
		}
	}
	if r.OK() {
		pterm.Success.Printfln("%d commands streamed", r.Sent)
	} else {
		pterm.Error.Printfln("%d of %d commands failed", r.Failures+r.Unanswered, r.Sent)
	}
}
