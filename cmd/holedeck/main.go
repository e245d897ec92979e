package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"holedeck/internal/api"
	"holedeck/internal/client"
	"holedeck/internal/config"
	"holedeck/internal/constants"
	"holedeck/internal/dashboard"
	"holedeck/internal/engine"
	"holedeck/internal/lifecycle"
	"holedeck/internal/logger"
	"holedeck/internal/tunnel"
)

const (
	colorReset = constants.ColorReset
	colorBold  = constants.ColorBold
	colorDim   = constants.ColorDim
	colorCyan  = constants.ColorCyan
	colorRed   = constants.ColorRed
)

func usage() {
	fmt.Println()
	fmt.Printf("  %s%sholedeck%s %sv%s%s\n", colorBold, colorCyan, colorReset, colorBold, constants.Version, colorReset)
	fmt.Println()
	fmt.Printf("  %sUsage:%s\n", colorBold, colorReset)
	fmt.Printf("    holedeck %sserve%s                       # control API on HOLEDECK_CONTROL_ADDR\n", colorCyan, colorReset)
	fmt.Printf("    holedeck %sshare%s [flags] <port>        # e.g. holedeck share -qr 3000\n", colorCyan, colorReset)
	fmt.Printf("    holedeck %sshare%s [flags] <ip>:<port>   # e.g. holedeck share 192.168.1.100:8080\n", colorCyan, colorReset)
	fmt.Printf("    holedeck %sconnect%s [flags] <key> <port> # e.g. holedeck connect hs://abc 4000\n", colorCyan, colorReset)
	fmt.Println()
	fmt.Printf("  %sFlags:%s\n", colorBold, colorReset)
	flag.VisitAll(func(f *flag.Flag) {
		fmt.Printf("    -%-12s %s\n", f.Name, f.Usage)
	})
	fmt.Println()
}

func fail(format string, args ...any) {
	fmt.Printf(colorRed+"Error: "+format+colorReset+"\n", args...)
	os.Exit(1)
}

func main() {
	flag.Usage = usage
	versionFlag := flag.Bool("version", false, "show version")
	envFile := flag.String("env", "", "load settings from this .env file")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("  %s%sholedeck%s %sv%s%s\n", colorBold, colorCyan, colorReset, colorBold, constants.Version, colorReset)
		fmt.Printf("  %sTunnel session manager%s\n", colorDim, colorReset)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	if *envFile != "" {
		config.Load(*envFile)
	} else {
		config.Load()
	}

	journal, err := logger.NewJournal(config.Cfg.JournalPath)
	if err != nil {
		log.Printf("⚠️ session journal disabled: %v", err)
		journal = logger.NewWriterJournal(io.Discard)
	}
	feed := dashboard.New(constants.FeedMaxEntries)
	journal.Subscribe(feed.Add)

	m := lifecycle.NewManager(
		tunnel.NewFactory(config.Cfg.RelayURL, config.Cfg.SkipTLSVerify),
		lifecycle.WithReadyTimeout(config.Cfg.ReadyTimeout),
		lifecycle.WithShutdownTimeout(config.Cfg.ShutdownTimeout),
		lifecycle.WithJournal(journal),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "serve":
		err = serve(ctx, m, journal, feed, args[1:])
	case "share":
		err = share(ctx, m, args[1:])
	case "connect":
		err = connect(ctx, m, args[1:])
	default:
		usage()
		os.Exit(1)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), config.Cfg.ShutdownTimeout)
	defer cancel()
	if cerr := m.Close(closeCtx); cerr != nil {
		log.Printf("⚠️ %v", cerr)
	}
	journal.Close()
	if err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context, m *lifecycle.Manager, journal *logger.Journal, feed *dashboard.Feed, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", config.Cfg.ControlAddr, "control API listen address")
	fs.Parse(args)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.NewRouter(m, feed),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	log.Printf("🚀 holedeck control API on %s (relay %s)", *addr, config.Cfg.RelayURL)
	if path := journal.GetLogPath(); path != "" {
		log.Printf("📝 session journal: %s", path)
	}

	select {
	case err := <-errc:
		if err != nil {
			log.Printf("❌ control API: %v", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Control API forced to shutdown: %v", err)
	}
	return nil
}

func share(ctx context.Context, m *lifecycle.Manager, args []string) error {
	fs := flag.NewFlagSet("share", flag.ExitOnError)
	key := fs.String("key", "", "custom tunnel key")
	secure := fs.Bool("secure", false, "end-to-end encrypt every stream")
	qr := fs.Bool("qr", false, "print the share URL as a QR code")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fail("share needs one argument: <port> or <ip>:<port>")
	}
	host, port := splitTarget(fs.Arg(0))

	return client.Run(ctx, m, client.Options{
		ID:   "share-" + port,
		Mode: engine.ModeServer,
		Config: lifecycle.RawConfig{
			Port:      port,
			Host:      host,
			CustomKey: *key,
			Secure:    *secure,
		},
		ShowQR: *qr,
	})
}

func connect(ctx context.Context, m *lifecycle.Manager, args []string) error {
	fs := flag.NewFlagSet("connect", flag.ExitOnError)
	host := fs.String("host", constants.LoopbackHost, "local address to bind")
	fs.Parse(args)

	if fs.NArg() != 2 {
		fail("connect needs two arguments: <key> <port>")
	}

	return client.Run(ctx, m, client.Options{
		ID:   "connect-" + fs.Arg(1),
		Mode: engine.ModeClient,
		Config: lifecycle.RawConfig{
			Port:             fs.Arg(1),
			Host:             *host,
			ConnectionString: fs.Arg(0),
		},
	})
}

// splitTarget accepts "3000" or "host:3000".
func splitTarget(arg string) (string, string) {
	if _, err := strconv.Atoi(arg); err == nil {
		return "localhost", arg
	}
	host, port, err := net.SplitHostPort(arg)
	if err != nil {
		fail("Invalid argument: %s\nMust be a port number (e.g. 3000) or address:port (e.g. localhost:3000)", arg)
	}
	if host == "" {
		host = "localhost"
	}
	return host, port
}
