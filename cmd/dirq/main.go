// Command dirq provides a CLI tool for inspecting and operating dirq queues.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/dirq/internal/config"
	"github.com/vnykmshr/dirq/internal/logging"
	"github.com/vnykmshr/dirq/internal/queue"
	"github.com/vnykmshr/dirq/pkg/dirq"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the configuration shared by every subcommand. Flags set on
// the command line override values loaded from the environment.
type cli struct {
	root      string
	next      string
	logLevel  string
	logFormat string

	cfg    *config.Config
	logger *logging.SlogLogger
}

func rootCommand() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:   "dirq [global options] <subcommand>",
		Short: "Inspect and operate directory-backed queues",
		Long: `dirq inspects and operates directory-backed queues.

Settings are read from DIRQ_ prefixed environment variables (and a .env
file when present). Global flags override them.`,
		Version:       dirq.Version,
		SilenceUsage:  true,
		SilenceErrors: false,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}
	cmd.SetVersionTemplate("dirq version {{ .Version }}\n")

	flags := cmd.PersistentFlags()
	flags.StringVarP(&c.root, "root", "r", "", "Queue root directory (DIRQ_ROOT)")
	flags.StringVar(&c.next, "next", "", "Root of the queue commits hand items to (DIRQ_NEXT)")
	flags.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error (DIRQ_LOG_LEVEL)")
	flags.StringVar(&c.logFormat, "log-format", "", "Log format: text, json (DIRQ_LOG_FORMAT)")

	cmd.AddCommand(
		statsCommand(c),
		inspectCommand(c),
		enqueueCommand(c),
		listCommand(c),
		metaCommand(c),
		sweepCommand(c),
		watchCommand(c),
	)

	return cmd
}

func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Root = c.root
	}
	if flags.Changed("next") {
		cfg.Next = c.next
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = c.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = cfg.Logger()
	return nil
}

// open opens the configured queue and, when one is set, its next queue.
func (c *cli) open(collector queue.MetricsCollector) (*queue.Queue, error) {
	if c.cfg.Root == "" {
		return nil, fmt.Errorf("queue root required: use --root or DIRQ_ROOT")
	}

	var next *queue.Queue
	if c.cfg.Next != "" {
		var err error
		next, err = queue.Open(c.cfg.Next, c.cfg.QueueOptions(nil, c.logger, nil))
		if err != nil {
			return nil, fmt.Errorf("error opening next queue: %w", err)
		}
	}

	q, err := queue.Open(c.cfg.Root, c.cfg.QueueOptions(next, c.logger, collector))
	if err != nil {
		return nil, fmt.Errorf("error opening queue: %w", err)
	}
	return q, nil
}
