package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/nmeahub/internal/config"
	"github.com/shaunagostinho/nmeahub/internal/hub"
	"github.com/shaunagostinho/nmeahub/internal/logger"
	"github.com/shaunagostinho/nmeahub/internal/position"
	"github.com/shaunagostinho/nmeahub/internal/queue"
	"github.com/shaunagostinho/nmeahub/internal/server"
	"github.com/shaunagostinho/nmeahub/web"
)

// rootOptions holds the flags shared by all commands.
type rootOptions struct {
	configPath string
	listenAddr string
	verbose    bool
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "nmeahub",
		Short: "NMEA 0183 multiplexer",
		Long: `nmeahub reads NMEA 0183 sentences from serial ports and TCP sources,
merges them into one queue and writes them back out to every connection
that wants them. Sentences are also streamed to browsers over WebSocket.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHub(opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "/etc/nmeahub/config.yaml", "Path to config file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log every sentence")
	cmd.Flags().StringVar(&opts.listenAddr, "listen", "", "Override listen address (e.g. :8080)")

	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newPortsCommand())
	return cmd
}

// loadConfig loads the config file and applies the command line overrides.
func loadConfig(opts *rootOptions) *config.Config {
	cfg := config.Load(opts.configPath)
	if opts.listenAddr != "" {
		cfg.Server.ListenAddr = opts.listenAddr
	}
	if opts.verbose {
		cfg.Verbose = true
	}
	return cfg
}

func runHub(opts *rootOptions) error {
	log.Println("[main] nmeahub starting")

	cfg := loadConfig(opts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfg.Path(), err)
	}
	if len(cfg.Connections) == 0 {
		log.Printf("[main] no connections configured, only WebSocket clients will feed the queue")
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	q := queue.New(cfg.Queue.Size)
	h := hub.New(q, cfg.Connections, hub.WithDebug(cfg.Verbose))
	tracker := position.New(q)

	trackLog := logger.New(logger.Config{
		Enabled:    cfg.TrackLog.Enabled,
		Path:       cfg.TrackLog.Path,
		IntervalMs: cfg.TrackLog.Interval,
	})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		h.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := tracker.Run(ctx); err != nil {
			log.Printf("[position] stopped: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		trackLog.Run(ctx, tracker.Snapshot)
	}()

	// Start server; connections keep retrying in the background
	srv := server.New(cfg, q, h, tracker, web.FS)
	err := srv.Run(ctx)
	if err != nil {
		log.Printf("[main] server exited: %v", err)
	}

	cancel()
	wg.Wait()
	q.Close()
	log.Println("[main] nmeahub stopped")
	return err
}
