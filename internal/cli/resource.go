package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/registrylink/client"
)

// writeOptions are shared by the commands that change server state.
type writeOptions struct {
	file           string
	idempotencyKey string
	noWait         bool
}

func (w *writeOptions) bind(cmd *cobra.Command, withBody bool) {
	if withBody {
		cmd.Flags().StringVarP(&w.file, "file", "f", "-", "request body file, - for stdin")
	}
	cmd.Flags().StringVar(&w.idempotencyKey, "idempotency-key", "",
		"replay key for safe re-runs (default: a random UUID)")
	cmd.Flags().BoolVar(&w.noWait, "no-wait", false, "fail instead of waiting for a rate limit token")
}

func (w *writeOptions) key() string {
	if w.idempotencyKey != "" {
		return w.idempotencyKey
	}
	return uuid.NewString()
}

func (w *writeOptions) body(cmd *cobra.Command) ([]byte, error) {
	var r io.Reader = cmd.InOrStdin()
	if w.file != "-" && w.file != "" {
		f, err := os.Open(w.file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty request body")
	}
	return data, nil
}

func newGetCommand(opts *options) *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "get <resource> <id>",
		Short: "Read one resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.Read(args[0], args[1])
			req.NoWait = noWait
			return opts.execute(cmd, req)
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "fail instead of waiting for a rate limit token")
	return cmd
}

func newSearchCommand(opts *options) *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "search <resource> [name=value...]",
		Short: "Search a resource type",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := parseQuery(args[1:])
			if err != nil {
				return err
			}
			req := client.Search(args[0], query)
			req.NoWait = noWait
			return opts.execute(cmd, req)
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "fail instead of waiting for a rate limit token")
	return cmd
}

func newCreateCommand(opts *options) *cobra.Command {
	w := &writeOptions{}
	cmd := &cobra.Command{
		Use:   "create <resource>",
		Short: "Create a resource from a JSON body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := w.body(cmd)
			if err != nil {
				return err
			}
			req := client.Create(args[0], body, w.key())
			req.NoWait = w.noWait
			return opts.execute(cmd, req)
		},
	}
	w.bind(cmd, true)
	return cmd
}

func newUpdateCommand(opts *options) *cobra.Command {
	w := &writeOptions{}
	cmd := &cobra.Command{
		Use:   "update <resource> <id>",
		Short: "Replace a resource with a JSON body",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := w.body(cmd)
			if err != nil {
				return err
			}
			req := client.Update(args[0], args[1], body, w.key())
			req.NoWait = w.noWait
			return opts.execute(cmd, req)
		},
	}
	w.bind(cmd, true)
	return cmd
}

func newDeleteCommand(opts *options) *cobra.Command {
	w := &writeOptions{}
	cmd := &cobra.Command{
		Use:   "delete <resource> <id>",
		Short: "Delete a resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.Delete(args[0], args[1], w.key())
			req.NoWait = w.noWait
			return opts.execute(cmd, req)
		},
	}
	w.bind(cmd, false)
	return cmd
}

func newBatchCommand(opts *options) *cobra.Command {
	w := &writeOptions{}
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Post a batch or transaction bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := w.body(cmd)
			if err != nil {
				return err
			}
			req := client.Batch(body, w.key())
			req.NoWait = w.noWait
			return opts.execute(cmd, req)
		},
	}
	w.bind(cmd, true)
	return cmd
}

// parseQuery turns name=value arguments into search parameters. Repeated
// names keep every value.
func parseQuery(args []string) (url.Values, error) {
	q := url.Values{}
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid search parameter %q, want name=value", arg)
		}
		q.Add(name, value)
	}
	return q, nil
}

// execute runs req and prints the response body. A failed call still
// prints the body the server sent, which usually explains the failure.
func (o *options) execute(cmd *cobra.Command, req *client.Request) error {
	return o.run(cmd, func(ctx context.Context, s *session) error {
		resp, err := s.client.Execute(ctx, req)
		if resp != nil {
			o.report(cmd, resp)
			if len(resp.Body) > 0 {
				out := cmd.OutOrStdout()
				_, _ = out.Write(resp.Body)
				if resp.Body[len(resp.Body)-1] != '\n' {
					_, _ = fmt.Fprintln(out)
				}
			}
		}
		return err
	})
}

func (o *options) report(cmd *cobra.Command, resp *client.Response) {
	if !o.verbose {
		return
	}
	line := fmt.Sprintf("%d from %s, request id %s, attempts %d",
		resp.StatusCode, resp.BaseURL, resp.CorrelationID, resp.Attempts)
	if resp.Replayed {
		line += " (replayed)"
	}
	_, _ = fmt.Fprintln(cmd.ErrOrStderr(), line)
}
