package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aerofly-bridge/bridge/internal/bridge"
	"github.com/aerofly-bridge/bridge/internal/logging"
	"github.com/aerofly-bridge/bridge/internal/metrics"
	"github.com/aerofly-bridge/bridge/internal/observability"
)

func serveCmd() *cobra.Command {
	var (
		tickHz      int
		inboundCap  int
		outboundCap int
		httpAddr    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge core, driven by a synthetic tick source",
		Long: `Loads the bridge core and calls on_update on a fixed-rate ticker,
standing in for the real simulator host process. This is how the bridge is
exercised standalone -- a production embedding calls OnLoad/OnUpdate/OnUnload
directly from the host's own tick callback instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)
			if cfg.Observability.Logging.SessionLogFile != "" {
				if err := logging.DefaultSessionLogger().SetOutput(cfg.Observability.Logging.SessionLogFile); err != nil {
					logging.Op().Warn("failed to open session log file", "err", err)
				}
			}

			ctx := context.Background()
			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(ctx)

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			orch := bridge.New(cfg, logging.Op())
			report, err := orch.OnLoad()
			if err != nil {
				return fmt.Errorf("on_load: %w", err)
			}
			logSummary(report)

			var httpServer *http.Server
			if httpAddr != "" {
				httpServer = startMetricsServer(httpAddr, cfg.Observability.Metrics.Enabled)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			interval := time.Second / time.Duration(tickHz)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			inbound := make([]byte, inboundCap)
			outbound := make([]byte, outboundCap)

			logging.Op().Info("bridge serving", "tick_hz", tickHz, "tcp", cfg.TCP.Enabled, "ws", cfg.WS.Enabled)

			for {
				select {
				case <-sigCh:
					logging.Op().Info("shutdown signal received")
					if httpServer != nil {
						sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						httpServer.Shutdown(sctx)
						cancel()
					}
					if err := orch.OnUnload(); err != nil {
						return fmt.Errorf("on_unload: %w", err)
					}
					return nil

				case <-ticker.C:
					// No real simulator is attached in standalone mode, so
					// every tick carries an empty inbound frame; OnUpdate
					// still commits the snapshot and drains queued commands.
					if _, _, err := orch.OnUpdate(inbound, 0, outbound, len(outbound)); err != nil {
						logging.Op().Error("on_update failed", "err", err)
					}
				}
			}
		},
	}

	cmd.Flags().IntVar(&tickHz, "tick-hz", 50, "synthetic host tick rate")
	cmd.Flags().IntVar(&inboundCap, "inbound-cap", 4096, "size of the synthetic inbound buffer")
	cmd.Flags().IntVar(&outboundCap, "outbound-cap", 16384, "size of the outbound command buffer")
	cmd.Flags().StringVar(&httpAddr, "http", "", "address to expose /metrics and /healthz on (e.g. :9100); empty disables")

	return cmd
}

func logSummary(report *bridge.LoadReport) {
	logging.Op().Info("on_load complete",
		"snapshot_ready", report.SnapshotReady,
		"tcp_data_started", report.TCPDataStarted,
		"tcp_command_started", report.TCPCommandStarted,
		"ws_started", report.WSStarted,
		"layout_descriptor_path", report.LayoutDescriptorPath,
	)
	if report.TCPDataErr != nil {
		logging.Op().Warn("tcp transport did not start", "err", report.TCPDataErr)
	}
	if report.WSErr != nil {
		logging.Op().Warn("websocket transport did not start", "err", report.WSErr)
	}
}

func startMetricsServer(addr string, prometheusEnabled bool) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", observability.TracingHandler("healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	mux.Handle("GET /metrics.json", observability.TracingHandler("metrics_json", metrics.Global().JSONHandler().ServeHTTP))
	if prometheusEnabled {
		mux.Handle("GET /metrics", observability.TracingHandler("metrics_prometheus", metrics.PrometheusHandler().ServeHTTP))
	}

	srv := &http.Server{Addr: addr, Handler: observability.HTTPMiddleware(mux)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("metrics server exited", "err", err)
		}
	}()
	return srv
}
