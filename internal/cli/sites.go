package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/mrlokans/sitesync/internal/config"
	"github.com/mrlokans/sitesync/internal/crypto"
	"github.com/mrlokans/sitesync/internal/entities"
)

// SiteAddCommand registers a remote site.
type SiteAddCommand struct {
	base
	Name             string
	URL              string
	APIKey           string
	APISecret        string
	Direction        string
	SyncBookings     bool
	SyncAvailability bool
	SyncCustomers    bool
}

func NewSiteAddCommand(cfg *config.Config, out io.Writer) *SiteAddCommand {
	return &SiteAddCommand{base: newBase(cfg, out)}
}

func (cmd *SiteAddCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("site-add", flag.ContinueOnError)
	fs.StringVar(&cmd.Name, "name", "", "Display name")
	fs.StringVar(&cmd.URL, "url", "", "Base URL of the remote site (required)")
	fs.StringVar(&cmd.APIKey, "key", "", "Shared API key (generated when empty)")
	fs.StringVar(&cmd.APISecret, "secret", "", "Shared signing secret (generated when empty)")
	fs.StringVar(&cmd.Direction, "direction", string(entities.DirectionBoth), "push, pull or both")
	fs.BoolVar(&cmd.SyncBookings, "bookings", true, "Sync bookings")
	fs.BoolVar(&cmd.SyncAvailability, "availability", true, "Sync staff availability")
	fs.BoolVar(&cmd.SyncCustomers, "customers", true, "Sync customers")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s site-add -url URL [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Register a remote site. Both sites must store the same key and secret.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s site-add -url https://north.example.com -name North\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s site-add -url https://south.example.com -key K -secret S -direction push\n", os.Args[0])
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cmd.URL == "" {
		return errors.New("-url is required")
	}
	return nil
}

func (cmd *SiteAddCommand) Run() error {
	app, err := cmd.open()
	if err != nil {
		return err
	}
	defer app.Close()

	site := &entities.RemoteSite{
		Name:             cmd.Name,
		BaseURL:          cmd.URL,
		APIKey:           cmd.APIKey,
		APISecret:        cmd.APISecret,
		Direction:        entities.Direction(cmd.Direction),
		SyncBookings:     cmd.SyncBookings,
		SyncAvailability: cmd.SyncAvailability,
		SyncCustomers:    cmd.SyncCustomers,
	}
	if site.APIKey == "" {
		site.APIKey = uuid.NewString()
	}
	if site.APISecret == "" {
		if site.APISecret, err = crypto.GenerateSecret(32); err != nil {
			return err
		}
	}

	if _, err := app.Sites.Save(context.Background(), site); err != nil {
		return err
	}

	fmt.Fprintf(cmd.out, "site %d registered: %s\n", site.ID, site.BaseURL)
	fmt.Fprintf(cmd.out, "api key:    %s\n", site.APIKey)
	fmt.Fprintf(cmd.out, "api secret: %s\n", site.APISecret)
	fmt.Fprintf(cmd.out, "register this site on the peer with the same key and secret\n")
	return nil
}

// SiteListCommand prints the site registry.
type SiteListCommand struct {
	base
	Status string
}

func NewSiteListCommand(cfg *config.Config, out io.Writer) *SiteListCommand {
	return &SiteListCommand{base: newBase(cfg, out)}
}

func (cmd *SiteListCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("site-list", flag.ContinueOnError)
	fs.StringVar(&cmd.Status, "status", "", "Only list sites with this status (active, disabled, error)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s site-list [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}
	return fs.Parse(args)
}

func (cmd *SiteListCommand) Run() error {
	app, err := cmd.open()
	if err != nil {
		return err
	}
	defer app.Close()

	var status *entities.SiteStatus
	if cmd.Status != "" {
		s := entities.SiteStatus(cmd.Status)
		if !s.Valid() {
			return fmt.Errorf("unknown status %q", cmd.Status)
		}
		status = &s
	}

	list, err := app.Sites.List(context.Background(), status)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tURL\tDIRECTION\tSTATUS\tDOMAINS\tLAST SYNC")
	for _, s := range list {
		lastSync := "never"
		if s.LastSync != nil {
			lastSync = s.LastSync.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.BaseURL, s.Direction, s.Status, domains(&s), lastSync)
	}
	return w.Flush()
}

func domains(s *entities.RemoteSite) string {
	out := ""
	for _, d := range []entities.Domain{entities.DomainBooking, entities.DomainAvailability, entities.DomainCustomer} {
		if !s.SyncsDomain(d) {
			continue
		}
		if out != "" {
			out += ","
		}
		out += string(d)
	}
	if out == "" {
		return "-"
	}
	return out
}

// SitePingCommand checks connectivity and credentials of remote sites.
type SitePingCommand struct {
	base
	SiteID uint
}

func NewSitePingCommand(cfg *config.Config, out io.Writer) *SitePingCommand {
	return &SitePingCommand{base: newBase(cfg, out)}
}

func (cmd *SitePingCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("site-ping", flag.ContinueOnError)
	fs.UintVar(&cmd.SiteID, "site", 0, "Site ID to ping (0 = every site that is not disabled)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s site-ping [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}
	return fs.Parse(args)
}

func (cmd *SitePingCommand) Run() error {
	app, err := cmd.open()
	if err != nil {
		return err
	}
	defer app.Close()
	ctx := context.Background()

	if cmd.SiteID == 0 {
		healthy, failed, err := app.Health.PingAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.out, "healthy=%d failed=%d\n", healthy, failed)
		if failed > 0 {
			return fmt.Errorf("%d site(s) unreachable", failed)
		}
		return nil
	}

	reply, err := app.Health.PingSite(ctx, cmd.SiteID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.out, "site %d ok: %s at %s\n", cmd.SiteID, reply.Site, reply.Time.Format("2006-01-02 15:04:05"))
	return nil
}
