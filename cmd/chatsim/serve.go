package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/r3d91ll/llm-chat-simulator/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the debate JSON API",
	Long: `Serve the debate JSON API. Each browser session gets its own conversation,
tracked with a cookie. Idle sessions expire after store.ttl.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.client.IsAvailable(ctx) {
		a.logger.Warn("completion server not reachable; turns will report errors until it is up",
			"base_url", a.client.BaseURL())
	}

	srv := server.New(a.service, a.client, server.Config{
		Addr:       cfg.Server.Addr,
		SessionTTL: cfg.Store.TTL,
		Logger:     a.logger,
	})
	return srv.Run(ctx)
}
