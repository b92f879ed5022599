package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mrlokans/sitesync/internal/config"
)

// ProcessQueueCommand drains the outbound queue once.
type ProcessQueueCommand struct {
	base
	Limit int
}

func NewProcessQueueCommand(cfg *config.Config, out io.Writer) *ProcessQueueCommand {
	return &ProcessQueueCommand{base: newBase(cfg, out)}
}

func (cmd *ProcessQueueCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("process-queue", flag.ContinueOnError)
	fs.IntVar(&cmd.Limit, "limit", cmd.cfg.Sync.BatchSize, "Maximum number of items to push")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s process-queue [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Push ready queue items to their remote sites once and exit.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}
	return fs.Parse(args)
}

func (cmd *ProcessQueueCommand) Run() error {
	app, err := cmd.open()
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.RequireSiteURL(); err != nil {
		return err
	}

	summary, err := app.Processor.Run(context.Background(), cmd.Limit)
	if err != nil {
		return fmt.Errorf("queue drain failed: %w", err)
	}

	fmt.Fprintf(cmd.out, "processed=%d completed=%d retried=%d failed=%d skipped=%d released=%d purged=%d\n",
		summary.Processed, summary.Completed, summary.Retried, summary.Failed,
		summary.Skipped, summary.Released, summary.Purged)
	return nil
}

// RetryFailedCommand resets failed queue items to pending.
type RetryFailedCommand struct {
	base
	SiteID uint
}

func NewRetryFailedCommand(cfg *config.Config, out io.Writer) *RetryFailedCommand {
	return &RetryFailedCommand{base: newBase(cfg, out)}
}

func (cmd *RetryFailedCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("retry-failed", flag.ContinueOnError)
	fs.UintVar(&cmd.SiteID, "site", 0, "Only retry items of this site ID (0 = all sites)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s retry-failed [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Reset failed queue items to pending with a fresh attempt budget.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}
	return fs.Parse(args)
}

func (cmd *RetryFailedCommand) Run() error {
	app, err := cmd.open()
	if err != nil {
		return err
	}
	defer app.Close()

	var siteID *uint
	if cmd.SiteID != 0 {
		siteID = &cmd.SiteID
	}
	n, err := app.Processor.RetryFailed(context.Background(), siteID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.out, "%d failed item(s) reset to pending\n", n)
	return nil
}

// ResyncCommand queues a full push of every local record.
type ResyncCommand struct {
	base
}

func NewResyncCommand(cfg *config.Config, out io.Writer) *ResyncCommand {
	return &ResyncCommand{base: newBase(cfg, out)}
}

func (cmd *ResyncCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("resync", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s resync\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Queue every local booking, availability block and customer for every eligible site.\n")
	}
	return fs.Parse(args)
}

func (cmd *ResyncCommand) Run() error {
	app, err := cmd.open()
	if err != nil {
		return err
	}
	defer app.Close()

	sum, err := app.Bookings.Resync(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.out, "queued bookings=%d availability=%d customers=%d\n", sum.Bookings, sum.Availability, sum.Customers)
	return nil
}
