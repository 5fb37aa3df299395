package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-image-sync/pkg/runner"
)

var httpAddr string

func init() {
	watchCmd.Flags().StringVar(&httpAddr, "http-addr", "", "Serve /v1/sync, /health and /metrics on this address")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync once, then again whenever the source tree changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("http-addr") {
			cfg.HTTPAddr = httpAddr
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		rc := runner.FromConfig(cfg)
		rc.Registerer = reg
		r, err := runner.New(rc)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var server *http.Server
		if cfg.HTTPAddr != "" {
			server = &http.Server{
				Addr:    cfg.HTTPAddr,
				Handler: r.Handler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
			}
			go func() {
				log.Printf("✓ HTTP endpoints ready on %s", cfg.HTTPAddr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("HTTP server failed: %v", err)
					stop()
				}
			}()
		}

		err = r.Watch(ctx)

		if server != nil {
			log.Println("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("Server forced to shutdown: %v", err)
			}
		}
		return err
	},
}
