package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/croplens/croplens/internal/predict"
	"github.com/croplens/croplens/internal/provider"
	"github.com/croplens/croplens/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP prediction API",
	Long: `Start an HTTP server exposing the prediction pipeline.

Endpoints:
  POST /predict        - single-image prediction (upload or image_url JSON)
  POST /predict/batch  - batch prediction over a list of image URLs
  GET  /ws             - WebSocket batch progress streaming
  GET  /health         - health check
  GET  /metrics        - Prometheus metrics

Examples:
  croplens serve
  croplens serve --port 8080
  croplens serve --host 127.0.0.1 --cors-origin https://app.example.com`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		host := cfg.Server.Host
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		corsOrigin := cfg.Server.CORSOrigin
		if cmd.Flags().Changed("cors-origin") {
			corsOrigin, _ = cmd.Flags().GetString("cors-origin")
		}
		maxUploadMB := cfg.Server.MaxUploadMB
		if cmd.Flags().Changed("max-upload-size") {
			maxUploadMB, _ = cmd.Flags().GetInt("max-upload-size")
		}
		timeoutSec := cfg.Server.TimeoutSec
		if cmd.Flags().Changed("timeout") {
			timeoutSec, _ = cmd.Flags().GetInt("timeout")
		}
		shutdownTimeout := cfg.Server.ShutdownTimeout
		if cmd.Flags().Changed("shutdown-timeout") {
			shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
		}

		client := provider.NewClient(cfg.ToProviderConfig())
		defer client.Close()
		pl := predict.New(client, cfg.ToPipelineConfig())

		srv := server.NewServer(pl, server.Config{
			Host:        host,
			Port:        port,
			CORSOrigin:  corsOrigin,
			MaxUploadMB: int64(maxUploadMB),
			TimeoutSec:  timeoutSec,
			BatchConfig: cfg.ToBatchConfig(),
		})

		mux := http.NewServeMux()
		srv.SetupRoutes(mux)

		addr := fmt.Sprintf("%s:%d", host, port)
		httpServer := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("HTTP server listening", "addr", addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		case sig := <-sigCh:
			slog.Info("shutting down", "signal", sig.String())
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("host", "0.0.0.0", "host to bind the server to")
	serveCmd.Flags().IntP("port", "p", 5000, "port to bind the server to")
	serveCmd.Flags().String("cors-origin", "*", "allowed CORS origin")
	serveCmd.Flags().Int("max-upload-size", 16, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 120, "per-request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "graceful shutdown timeout in seconds")
	rootCmd.AddCommand(serveCmd)
}
