package client

import (
	"context"
	"fmt"
	"time"

	"holedeck/internal/engine"
	"holedeck/internal/lifecycle"
)

// Options controls a foreground session.
type Options struct {
	ID     string
	Mode   engine.Mode
	Config lifecycle.RawConfig
	ShowQR bool
	// Poll is how often the session is checked for relay failures.
	Poll time.Duration
}

// Run starts one session, prints it and keeps it up until ctx ends or the
// session fails. The session is stopped before Run returns.
func Run(ctx context.Context, m *lifecycle.Manager, opts Options) error {
	PrintBanner()
	fmt.Fprintf(Out, "  %sConnecting...%s\n", ColorDim, ColorReset)

	info, err := m.Start(ctx, opts.ID, opts.Mode, opts.Config)
	if err != nil {
		PrintError(err)
		return err
	}

	PrintSep()
	PrintSession(info)
	if opts.ShowQR && opts.Mode == engine.ModeServer {
		fmt.Fprintln(Out)
		if err := PrintQR(info.URL); err != nil {
			PrintHint("qr: " + err.Error())
		}
	}
	PrintSep()
	PrintHint("Press Ctrl+C to stop")

	poll := opts.Poll
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop(context.Background(), opts.ID)
			fmt.Fprintf(Out, "\n  %s● disconnected%s\n", ColorRed, ColorReset)
			return nil
		case <-ticker.C:
			if _, ok := m.Lookup(opts.ID); !ok {
				err := fmt.Errorf("session %s lost its relay connection", opts.ID)
				PrintError(err)
				return err
			}
		}
	}
}
