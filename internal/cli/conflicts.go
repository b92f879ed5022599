package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/mrlokans/sitesync/internal/config"
	"github.com/mrlokans/sitesync/internal/entities"
)

// ConflictsCommand lists pending conflicts or resolves one.
type ConflictsCommand struct {
	base
	Resolve  uint
	Strategy string
	By       string
}

func NewConflictsCommand(cfg *config.Config, out io.Writer) *ConflictsCommand {
	return &ConflictsCommand{base: newBase(cfg, out)}
}

func (cmd *ConflictsCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("conflicts", flag.ContinueOnError)
	fs.UintVar(&cmd.Resolve, "resolve", 0, "Conflict ID to resolve")
	fs.StringVar(&cmd.Strategy, "strategy", "", "local, remote, merge or skip")
	fs.StringVar(&cmd.By, "by", "cli", "Name recorded as resolver")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s conflicts [-resolve ID -strategy S]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Without -resolve, list pending conflicts.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cmd.Resolve != 0 && cmd.Strategy == "" {
		return fmt.Errorf("-strategy is required with -resolve")
	}
	return nil
}

func (cmd *ConflictsCommand) Run() error {
	app, err := cmd.open()
	if err != nil {
		return err
	}
	defer app.Close()
	ctx := context.Background()

	if cmd.Resolve != 0 {
		c, err := app.Resolver.Resolve(ctx, cmd.Resolve, entities.Resolution(cmd.Strategy), cmd.By)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.out, "conflict %d resolved with %s\n", c.ID, *c.Resolution)
		return nil
	}

	pending, err := app.Resolver.ListPending(ctx, nil)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSITE\tDOMAIN\tTYPE\tLOCAL\tREMOTE\tCREATED")
	for _, c := range pending {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\t%d\t%s\n", c.ID, c.SiteID, c.Domain, c.ConflictType, c.LocalID, c.RemoteID, c.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
