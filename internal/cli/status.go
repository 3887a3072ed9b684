package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/registrylink/client"
)

func newStatusCommand(opts *options) *cobra.Command {
	var noProbe bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe every endpoint and show health, breaker and token state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, s *session) error {
				if !noProbe {
					s.client.Probe(ctx)
				}
				renderSnapshot(cmd.OutOrStdout(), s.client.Snapshot())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noProbe, "no-probe", false, "show configured endpoints without probing them")
	return cmd
}

func renderSnapshot(w io.Writer, snap client.Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Endpoints")
	t.AppendHeader(table.Row{"URL", "Role", "Health", "Latency", "Failures", "Checked", "Notes"})
	for _, ep := range snap.Endpoints {
		role := "backup"
		if ep.Primary {
			role = "primary"
		}
		if ep.URL == snap.ActiveEndpoint {
			role += " (active)"
		}
		health := "healthy"
		if !ep.Healthy {
			health = "unhealthy"
		}
		t.AppendRow(table.Row{
			ep.URL,
			role,
			health,
			formatDuration(ep.Latency),
			ep.ConsecutiveFailures,
			formatTime(ep.LastChecked),
			ep.Message,
		})
	}
	t.Render()

	if len(snap.Keys) > 0 {
		k := table.NewWriter()
		k.SetOutputMirror(w)
		k.SetStyle(table.StyleRounded)
		k.SetTitle("Endpoint keys")
		k.AppendHeader(table.Row{"Key", "Breaker", "Failures", "Limit", "Tokens", "Server remaining", "In flight"})
		for _, m := range snap.Keys {
			remaining := "-"
			if m.Limiter.ServerRemaining >= 0 {
				remaining = fmt.Sprint(m.Limiter.ServerRemaining)
			}
			inFlight := "-"
			if b := m.Bulkhead; b != nil {
				inFlight = fmt.Sprintf("%d/%d", b.InFlight, b.Capacity)
			}
			k.AppendRow(table.Row{
				m.Key,
				m.Breaker.State.String(),
				m.Breaker.Failures,
				fmt.Sprintf("%.0f/%s", m.Limiter.CurrentLimit, m.Limiter.Window),
				fmt.Sprintf("%.1f", m.Limiter.Tokens),
				remaining,
				inFlight,
			})
		}
		k.Render()
	}

	switch tok := snap.Token; {
	case tok == nil:
		_, _ = fmt.Fprintln(w, "Token: not configured")
	case !tok.Present:
		_, _ = fmt.Fprintln(w, "Token: not fetched yet")
	case tok.ExpiresAt.IsZero():
		_, _ = fmt.Fprintf(w, "Token: valid=%t, no expiry, refreshes=%d\n", tok.Valid, tok.Refreshes)
	default:
		_, _ = fmt.Fprintf(w, "Token: valid=%t, expires %s, refreshes=%d\n",
			tok.Valid, formatTime(tok.ExpiresAt), tok.Refreshes)
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}
