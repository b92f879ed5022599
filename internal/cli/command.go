// Package cli implements the operator subcommands of the sitesync binary.
// Every command opens the same database the server uses.
package cli

import (
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/mrlokans/sitesync/internal/config"
	"github.com/mrlokans/sitesync/internal/entrypoint"
	"github.com/mrlokans/sitesync/internal/logger"
)

// base carries what every command needs to open the engine.
type base struct {
	cfg *config.Config
	out io.Writer
}

func newBase(cfg *config.Config, out io.Writer) base {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if out == nil {
		out = os.Stdout
	}
	return base{cfg: cfg, out: out}
}

// open builds the engine with a console logger that only reports warnings.
func (b base) open() (*entrypoint.App, error) {
	log, err := logger.New(config.Log{Level: "warn", Encoding: "console"})
	if err != nil {
		log = zap.NewNop()
	}
	return entrypoint.Build(b.cfg, log)
}
