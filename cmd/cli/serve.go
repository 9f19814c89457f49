package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweepnet/sweepnet/internal/api"
)

var serveAddr string

// serveCmd runs the embedded API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sweepnet API server",
	Long: `Start the embedded HTTP API: scan submission, result retrieval,
live progress over websockets, and Prometheus metrics. The server is
unauthenticated; bind it to loopback or a trusted network only.`,
	Example: `  sweepnet serve
  sweepnet serve --listen 0.0.0.0:9090`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "listen", "", "Listen address host:port (default from config)")
}

func runServe(_ *cobra.Command, _ []string) {
	cfg := loadConfig()
	if serveAddr != "" {
		host, port, err := splitListenAddr(serveAddr)
		if err != nil {
			fatal(err)
		}
		cfg.API.ListenAddr = host
		cfg.API.Port = port
	}
	if !cfg.IsAPIEnabled() {
		fmt.Fprintln(os.Stderr, "Error: API server is disabled in configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.New(cfg)
	if err := server.Start(ctx); err != nil {
		fatal(err)
	}
}

func splitListenAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid listen port %q", portStr)
	}
	return host, port, nil
}
