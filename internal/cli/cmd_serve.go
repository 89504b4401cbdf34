package cli

import (
	"context"
	"fmt"
	"net"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/featstore/internal/server"
)

// ServeCmd returns the serve command.
func ServeCmd(a *app) *Command {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.String("listen", "", "Listen `addr` (default from config)")

	return &Command{
		Flags: fs,
		Usage: "serve [flags] <file>",
		Short: "Serve queries and metrics over HTTP",
		Long: `Serve <file> over HTTP until interrupted.

Routes: /features?ref=&start=&end=&limit= (NDJSON), /refs, /refs/{name},
/stats, /metrics (Prometheus), /healthz.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := wantArgs(args, 1, 1); err != nil {
				return err
			}

			addr, _ := fs.GetString("listen")
			if addr == "" {
				addr = a.cfg.Listen
			}

			store, closeStore, err := a.openStore(args[0])
			if err != nil {
				return err
			}
			defer closeStore()

			srv, err := server.New(store, a.logger)
			if err != nil {
				return err
			}

			var lc net.ListenConfig

			ln, err := lc.Listen(ctx, "tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}

			o.ErrPrintln("listening on", ln.Addr().String())

			return srv.Serve(ctx, ln)
		},
	}
}
