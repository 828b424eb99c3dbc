package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/alecthomas/kong"

	"codeberg.org/iklabib/vmsense/configs"
	"codeberg.org/iklabib/vmsense/orchestrate"
	"codeberg.org/iklabib/vmsense/registry"
	"codeberg.org/iklabib/vmsense/report"
	"codeberg.org/iklabib/vmsense/runner"
	"codeberg.org/iklabib/vmsense/util"
)

type runCmd struct {
	Config     string   `help:"Path to a YAML or JSON configuration file." type:"existingfile"`
	Iterations int      `help:"Measurement iterations per probe." short:"i"`
	Timeout    int      `help:"Per-probe timeout in seconds." short:"t"`
	Parallel   int      `help:"Number of probes executed concurrently." short:"p"`
	Output     string   `help:"Directory for report artifacts." short:"o"`
	SearchDir  []string `help:"Directories scanned for probe binaries and sources." name:"search-dir"`
	WebhookURL string   `help:"Webhook endpoint receiving the report summary." name:"webhook-url"`
	NoWebhook  bool     `help:"Disable webhook delivery even when configured." name:"no-webhook"`
	Verbose    bool     `help:"Print debug log entries." short:"v"`
}

type probesCmd struct {
	SearchDir []string `help:"Directories scanned for probe binaries and sources." name:"search-dir"`
}

var cli struct {
	Run    runCmd    `cmd:"" default:"1" help:"Execute every available probe and build the consensus report."`
	Probes probesCmd `cmd:"" help:"List registered probes and whether each can run on this host."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("vmsense"),
		kong.Description("Cross-runtime VM detection through probe consensus."),
		kong.UsageOnError(),
	)
	util.Bail(ctx.Run())
}

// loadConfig layers CLI flags over the config file (or the defaults
// when no file is given).
func (c *runCmd) loadConfig() (configs.Config, error) {
	cfg := configs.Defaults()
	if c.Config != "" {
		loaded, err := configs.LoadConfig(c.Config)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if c.Iterations > 0 {
		cfg.Iterations = c.Iterations
	}
	if c.Timeout > 0 {
		cfg.TimeoutSeconds = c.Timeout
	}
	if c.Parallel > 0 {
		cfg.Parallelism = c.Parallel
	}
	if c.Output != "" {
		cfg.OutputDir = c.Output
	}
	if len(c.SearchDir) > 0 {
		cfg.SearchDirs = c.SearchDir
	}
	if c.WebhookURL != "" {
		cfg.Webhook.URL = c.WebhookURL
	}
	if c.NoWebhook {
		cfg.Webhook.URL = ""
	}
	if c.Verbose {
		cfg.Verbose = true
	}
	return cfg, cfg.Validate()
}

func (c *runCmd) Run() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sinks := []report.Sink{report.DirSink{Dir: cfg.OutputDir}}
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, report.WebhookSink{URL: cfg.Webhook.URL})
	}

	logger := orchestrate.NewLogger(cfg.Verbose)
	table := registry.Default(cfg.SearchDirs...)

	built, err := orchestrate.Run(ctx, cfg, table, sinks, logger)
	if err != nil {
		return err
	}
	fmt.Print(report.SummaryText(built))

	if orchestrate.SucceededCount(built.Results) == 0 {
		return errors.New("no probe completed successfully")
	}
	return nil
}

func (c *probesCmd) Run() error {
	table := registry.Default(c.SearchDir...)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROBE\tAVAILABLE\tMETHOD")
	for _, descriptor := range table {
		invocation, err := runner.Discover(context.Background(), descriptor)
		if err != nil {
			fmt.Fprintf(w, "%s\tno\t-\n", descriptor.ID)
			continue
		}
		fmt.Fprintf(w, "%s\tyes\t%s\n", descriptor.ID, invocation.Method)
	}
	return w.Flush()
}
