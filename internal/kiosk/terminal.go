package kiosk

import (
	"context"
	"fmt"
	"html"
	"io"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	facelinesdk "faceline/sdk/go"
)

// ViewSource is the read-only slice of the API the terminal views pull from.
type ViewSource interface {
	History(ctx context.Context, days int) (facelinesdk.HistoryResponse, error)
	Users(ctx context.Context) (facelinesdk.UsersResponse, error)
}

// TerminalPresenter renders outcomes to a terminal. The success cue is the
// terminal bell.
type TerminalPresenter struct {
	Out io.Writer
	// OnClearName lets the host clear whatever holds the pending name.
	OnClearName func()
}

func (p *TerminalPresenter) ShowOutcome(o Outcome) {
	switch o.Kind {
	case OutcomeSuccess:
		if o.Action == ActionAuthentication {
			fmt.Fprintf(p.Out, "%s [%s] confidence %.1f%% liveness %.2f at %s\n",
				html.EscapeString(o.Message), o.PunchType, o.Confidence*100, o.LivenessScore, o.Timestamp)
			return
		}
		fmt.Fprintf(p.Out, "%s (liveness %.2f)\n", html.EscapeString(o.Message), o.LivenessScore)
	case OutcomeRejected:
		fmt.Fprintf(p.Out, "error: %s\n", html.EscapeString(o.Message))
	case OutcomeTransportError:
		fmt.Fprintf(p.Out, "error: %s\n", html.EscapeString(o.Message))
	}
}

func (p *TerminalPresenter) ClearNameEntry() {
	if p.OnClearName != nil {
		p.OnClearName()
	}
}

func (p *TerminalPresenter) PlaySuccessCue() {
	fmt.Fprint(p.Out, "\a")
}

// TerminalViews is the dashboard and history renderer. Refreshes are
// idempotent; any pull or render trouble is swallowed and shown as a
// placeholder, never raised back into the coordinator.
type TerminalViews struct {
	Out    io.Writer
	Client ViewSource
	Days   int
	Now    func() time.Time

	mu sync.Mutex
}

func NewTerminalViews(out io.Writer, client ViewSource, days int) *TerminalViews {
	if days <= 0 {
		days = 7
	}
	return &TerminalViews{Out: out, Client: client, Days: days, Now: time.Now}
}

func (v *TerminalViews) RefreshDashboard() {
	v.mu.Lock()
	defer v.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	users, err := v.Client.Users(ctx)
	if err != nil || !users.Success {
		fmt.Fprintln(v.Out, "dashboard unavailable")
		return
	}
	hist, err := v.Client.History(ctx, 1)
	if err != nil || !hist.Success {
		fmt.Fprintln(v.Out, "dashboard unavailable")
		return
	}
	today := v.Now().UTC().Format("2006-01-02")
	punchesToday := 0
	for _, entry := range hist.History {
		if len(entry.Timestamp) >= len(today) && entry.Timestamp[:len(today)] == today {
			punchesToday++
		}
	}
	fmt.Fprintf(v.Out, "Registered users: %d | Punches today: %d\n", len(users.Users), punchesToday)
}

func (v *TerminalViews) RefreshHistory() {
	v.mu.Lock()
	defer v.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := v.Client.History(ctx, v.Days)
	if err != nil || !resp.Success {
		fmt.Fprintln(v.Out, "history unavailable")
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(v.Out)
	tw.AppendHeader(table.Row{"Name", "Punch", "Time", "Confidence"})
	for _, entry := range resp.History {
		tw.AppendRow(table.Row{
			html.EscapeString(entry.Name),
			entry.PunchType,
			entry.Timestamp,
			fmt.Sprintf("%.1f%%", entry.Confidence*100),
		})
	}
	tw.Render()
}
