package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vnykmshr/dirq/internal/logging"
	"github.com/vnykmshr/dirq/internal/queue"
	"github.com/vnykmshr/dirq/internal/sweep"
)

func statsCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		Args:  cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := c.open(nil)
			if err != nil {
				return err
			}
			in, err := inspectQueue(q)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "Queue Statistics")
			fmt.Fprintln(w, "================")
			fmt.Fprintf(w, "Directory:\t%s\n", in.Root)
			fmt.Fprintf(w, "Incoming:\t%d\n", in.Incoming)
			fmt.Fprintf(w, "Pending:\t%d\n", in.Pending)
			fmt.Fprintf(w, "Errors:\t%d\n", in.Errors)
			fmt.Fprintf(w, "Tmp:\t%d\n", in.Tmp)
			if in.Next != "" {
				fmt.Fprintf(w, "Next:\t%s\n", in.Next)
				fmt.Fprintf(w, "Done:\t%d\n", in.Done)
			}
			return w.Flush()
		},
	}
}

// inspection is the machine-readable view of a queue.
type inspection struct {
	Root     string          `json:"root" yaml:"root"`
	Next     string          `json:"next,omitempty" yaml:"next,omitempty"`
	Incoming int             `json:"incoming" yaml:"incoming"`
	Pending  int             `json:"pending" yaml:"pending"`
	Errors   int             `json:"errors" yaml:"errors"`
	Tmp      int             `json:"tmp" yaml:"tmp"`
	Done     int             `json:"done" yaml:"done"`
	Banished []banishedEntry `json:"banished,omitempty" yaml:"banished,omitempty"`
}

type banishedEntry struct {
	ID       string         `json:"id" yaml:"id"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func inspectQueue(q *queue.Queue) (*inspection, error) {
	in := &inspection{Root: q.Root()}
	if next := q.NextQueue(); next != nil {
		in.Next = next.Root()
	}

	var err error
	if in.Incoming, err = q.CountIncoming(); err != nil {
		return nil, err
	}
	if in.Pending, err = q.CountPending(); err != nil {
		return nil, err
	}
	if in.Errors, err = q.CountErrors(); err != nil {
		return nil, err
	}
	if in.Done, err = q.CountDone(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(q.Dir(queue.StateTmp))
	if err != nil {
		return nil, err
	}
	in.Tmp = len(entries)

	return in, nil
}

func inspectCommand(c *cli) *cobra.Command {
	var output string
	var banished bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Detailed queue inspection",
		Args:  cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := c.open(nil)
			if err != nil {
				return err
			}
			in, err := inspectQueue(q)
			if err != nil {
				return err
			}

			if banished {
				ids, err := q.List(queue.StateErrors)
				if err != nil {
					return err
				}
				for _, id := range ids {
					meta, err := q.ReadMetadata(id)
					if err != nil {
						c.logger.Warn("unreadable metadata",
							logging.F("id", id),
							logging.F("error", err.Error()),
						)
					}
					in.Banished = append(in.Banished, banishedEntry{ID: id, Metadata: meta})
				}
			}

			return render(cmd.OutOrStdout(), output, in)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "json", "Output format: json, yaml")
	cmd.Flags().BoolVar(&banished, "banished", false, "Include banished items and their metadata")
	return cmd
}

func render(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func enqueueCommand(c *cli) *cobra.Command {
	var move bool

	cmd := &cobra.Command{
		Use:   "enqueue [file...]",
		Short: "Publish files, or standard input, as queue items",
		Long: `Publish each file as a new item and print its ID. Without arguments
the payload is read from standard input.

With --move the files are adopted instead of copied: each file is moved
into the queue and keeps its base name as ID.`,

		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := c.open(nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				payload, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("error reading stdin: %w", err)
				}
				id, err := q.Enqueue(payload)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, id)
				return nil
			}

			for _, path := range args {
				var id string
				if move {
					id, err = q.EnqueueFile(path)
				} else {
					var payload []byte
					if payload, err = os.ReadFile(path); err == nil {
						id, err = q.Enqueue(payload)
					}
				}
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&move, "move", false, "Move files into the queue instead of copying them")
	return cmd
}

func listCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "list <incoming|pending|errors>",
		Short:     "List item IDs in a state",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(queue.StateIncoming), string(queue.StatePending), string(queue.StateErrors)},

		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := c.open(nil)
			if err != nil {
				return err
			}
			ids, err := q.List(queue.State(args[0]))
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func metaCommand(c *cli) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "meta <id>",
		Short: "Show the metadata of a banished item",
		Args:  cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := c.open(nil)
			if err != nil {
				return err
			}
			if !q.IsError(args[0]) {
				return fmt.Errorf("%s: %w", args[0], queue.ErrNotFound)
			}
			meta, err := q.ReadMetadata(args[0])
			if err != nil {
				return err
			}
			if meta == nil {
				meta = queue.Metadata{}
			}
			return render(cmd.OutOrStdout(), output, meta)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format: json, yaml")
	return cmd
}

func sweepCommand(c *cli) *cobra.Command {
	var (
		tmpAge     time.Duration
		pendingAge time.Duration
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove stale tmp files and requeue abandoned claims",
		Args:  cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := c.open(nil)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("tmp-age") {
				tmpAge = c.cfg.SweepTmpAge
			}

			res, err := sweep.Sweep(q, sweep.Policy{
				TmpMaxAge:     tmpAge,
				PendingMaxAge: pendingAge,
				DryRun:        dryRun,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			if dryRun {
				fmt.Fprintln(w, "Dry run: nothing was changed")
			}
			fmt.Fprintf(w, "Tmp files removed:\t%d\n", len(res.TmpRemoved))
			fmt.Fprintf(w, "Bytes freed:\t%d\n", res.BytesFreed)
			fmt.Fprintf(w, "Items requeued:\t%d\n", len(res.Requeued))
			fmt.Fprintf(w, "Duration:\t%s\n", res.Duration.Round(time.Microsecond))
			return w.Flush()
		},
	}

	cmd.Flags().DurationVar(&tmpAge, "tmp-age", time.Hour, "Remove tmp files older than this (DIRQ_SWEEP_TMP_AGE)")
	cmd.Flags().DurationVar(&pendingAge, "pending-age", 0, "Requeue claims older than this (0 disables)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report without changing anything")
	return cmd
}
