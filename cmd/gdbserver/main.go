// Command gdbserver runs the GDB Remote Serial Protocol debugger
// server: four TCP listeners (three on-demand, one reserved for "debug
// next application"), a socket worker per listener and one monitor
// worker, all supervised by a single errgroup.Group.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Sahlo97/Luma3DS/internal/config"
	"github.com/Sahlo97/Luma3DS/internal/gdb"
	"github.com/Sahlo97/Luma3DS/internal/kernel/sim"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "gdbserver:", err)
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "gdbserver",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	registry := prometheus.NewRegistry()
	metrics := gdb.NewMetrics(registry)

	backend := sim.NewBackend()
	server := gdb.NewServer(cfg.PortBase, logger, backend, metrics)
	server.SetPacketSize(cfg.PacketSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		httpSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return httpSrv.Close()
		})
	}

	g.Go(func() error {
		logger.Info("gdb server starting", "port_base", cfg.PortBase)
		return server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return server.Stop(context.Background())
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
	logger.Info("gdbserver shut down")
}
