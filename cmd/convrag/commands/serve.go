package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/54b3r/convrag/internal/metrics"
	"github.com/54b3r/convrag/internal/server"
)

// NewServeCmd constructs the `convrag serve` command, which starts the ops
// HTTP server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ops HTTP server (health, readiness, metrics)",
		Long: `Start the operational HTTP server.

Endpoints:
  GET /api/health   liveness
  GET /api/ready    readiness: probes Qdrant and, when enabled, Redis
  GET /metrics      Prometheus metrics
  GET /api/stats    cache and collection statistics (?conversation_id=...)

/api/stats requires "Authorization: Bearer $CONVRAG_API_KEY" (or an
X-API-Key header) when
CONVRAG_API_KEY is set and is rate limited per client IP.

Examples:
  convrag serve
  convrag serve --host 0.0.0.0 --port 9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			d, err := buildDeps(ctx, depsOptions{metrics: metrics.New(reg)})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer d.close()

			pingers := []server.Pinger{server.NewQdrantPinger(d.backend)}
			if d.cache.Enabled() {
				pingers = append(pingers, server.NewRedisPinger(d.cache))
			} else {
				d.log.Info("readiness: redis probe skipped, cache disabled")
			}

			if !cmd.Flags().Changed("host") {
				host = envOr("CONVRAG_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				if p, err := strconv.Atoi(os.Getenv("CONVRAG_PORT")); err == nil {
					port = p
				}
			}

			srv, err := server.New(&server.Config{
				Host:            host,
				Port:            port,
				Logger:          d.log,
				Pingers:         pingers,
				Stats:           server.NewDiagnostics(d.cache, d.collections),
				APIKey:          os.Getenv("CONVRAG_API_KEY"),
				MetricsRegistry: reg,
				MetricsGatherer: reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			d.log.Info("serve starting", slog.String("addr", srv.Addr()))
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env: CONVRAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env: CONVRAG_PORT)")

	return cmd
}

// envOr returns the value of key, or fallback when it is unset or empty.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
