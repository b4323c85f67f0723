package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"synapse/internal/locator"
	"synapse/internal/proxy"
	"synapse/internal/telemetry"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <proxy|locator> [-config path]\n", os.Args[0])
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "proxy":
		runProxy(os.Args[2:])
	case "locator":
		runLocator(os.Args[2:])
	default:
		usage()
	}
}

func runProxy(args []string) {
	fs := flag.NewFlagSet("proxy", flag.ExitOnError)
	configPath := fs.String("config", getenvDefault("SYNAPSE_CONFIG", "/synapse/proxy.yaml"), "path to the proxy config")
	_ = fs.Parse(args)

	cfg, err := proxy.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer shutdownWithTimeout(shutdownTracing)

	loc, closeLocator, err := buildLocator(cfg.Locator)
	if err != nil {
		log.Fatalf("init locator: %v", err)
	}
	defer closeLocator()

	svc, err := proxy.NewService(cfg, loc)
	if err != nil {
		log.Fatalf("init proxy: %v", err)
	}
	defer svc.Close()

	log.Printf("synapse proxy: %d routes, %d upstreams, locator=%s", len(cfg.Routes), len(cfg.Upstreams), locatorDescription(cfg.Locator))
	err = serveAll(ctx,
		&http.Server{Addr: cfg.Listener.Addr(), Handler: svc.Handler(), ReadHeaderTimeout: 10 * time.Second},
		&http.Server{Addr: cfg.AdminListener.Addr(), Handler: svc.AdminHandler(), ReadHeaderTimeout: 10 * time.Second},
	)
	if err != nil {
		log.Printf("server error: %v", err)
	}
}

func buildLocator(cfg proxy.LocatorConfig) (proxy.CellLocator, func(), error) {
	if !cfg.Needed() {
		return nil, func() {}, nil
	}
	if cfg.Type == proxy.LocatorURL {
		c, err := locator.NewClient(cfg.URL, telemetry.InstrumentClient(&http.Client{Timeout: 5 * time.Second}))
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	}

	backup, err := locator.NewBackupStore(cfg.BackupRouteStore)
	if err != nil {
		return nil, nil, err
	}
	l, err := locator.New(cfg.Config, backup)
	if err != nil {
		_ = backup.Close()
		return nil, nil, err
	}
	l.Start()
	return l, func() {
		if err := l.Close(); err != nil {
			log.Printf("closing locator: %v", err)
		}
	}, nil
}

func locatorDescription(cfg proxy.LocatorConfig) string {
	switch {
	case !cfg.Needed():
		return "none"
	case cfg.Type == proxy.LocatorURL:
		return cfg.URL
	}
	return fmt.Sprintf("in_process(mode=%s, backup=%s)", cfg.Mode, cfg.BackupRouteStore.Type)
}

func runLocator(args []string) {
	fs := flag.NewFlagSet("locator", flag.ExitOnError)
	configPath := fs.String("config", getenvDefault("SYNAPSE_CONFIG", "/synapse/locator.yaml"), "path to the locator config")
	_ = fs.Parse(args)

	cfg, err := locator.LoadServerConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer shutdownWithTimeout(shutdownTracing)

	backup, err := locator.NewBackupStore(cfg.Locator.BackupRouteStore)
	if err != nil {
		log.Fatalf("init backup route store: %v", err)
	}
	l, err := locator.New(cfg.Locator, backup)
	if err != nil {
		log.Fatalf("init locator: %v", err)
	}
	l.Start()
	defer func() {
		if err := l.Close(); err != nil {
			log.Printf("closing locator: %v", err)
		}
	}()

	log.Printf("synapse locator: mode=%s control_plane=%s backup=%s", cfg.Locator.Mode, cfg.Locator.ControlPlane.URL, cfg.Locator.BackupRouteStore.Type)
	err = serveAll(ctx, &http.Server{
		Addr:              cfg.Listener.Addr(),
		Handler:           telemetry.HTTPMiddleware("synapse.locator")(l.ServerHandler()),
		ReadHeaderTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Printf("server error: %v", err)
	}
}

// serveAll runs every server until ctx is done or one of them fails, then
// shuts them all down.
func serveAll(ctx context.Context, servers ...*http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		g.Go(func() error {
			log.Printf("listening on %s", ln.Addr())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
		return nil
	})
	return g.Wait()
}

func shutdownWithTimeout(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
