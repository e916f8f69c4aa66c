// Command workloadmgr is the workload manager's process entrypoint: CLI
// parsing, component wiring, a debug HTTP surface, and graceful shutdown.
//
// Grounded on the teacher's steel-orchestrator/main.go: flag-based CLI,
// http.NewServeMux debug endpoints, and a SIGINT/SIGTERM goroutine that
// drains in-flight work before exiting.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/zoobzio/clockz"

	"github.com/hackstrix/workloadmgr/internal/config"
	"github.com/hackstrix/workloadmgr/internal/ioformat"
	"github.com/hackstrix/workloadmgr/internal/monitor"
	"github.com/hackstrix/workloadmgr/internal/runtime"
	"github.com/hackstrix/workloadmgr/internal/sched"
	"github.com/hackstrix/workloadmgr/internal/telemetry"
)

// simulatedHAL stands in for the accelerator driver/HAL, explicitly out of
// this module's scope (spec §1): it returns immediately, successfully.
type simulatedHAL struct{}

func (simulatedHAL) ExecuteKernel(ctx context.Context, label, cu int, slotMask uint64, executions int) error {
	return nil
}

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "[RUNTIME] ", err)
		os.Exit(1)
	}

	log := telemetry.New(cfg.LogJSON)

	if cfg.InfoOnly {
		fmt.Println(cfg.String())
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("signal received, draining in-flight work")
		cancel()
	}()

	mux := http.NewServeMux()
	var ready bool
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if ready {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s\n", cfg.String())
	})
	debugSrv := &http.Server{Addr: cfg.DebugListenAddr, Handler: mux}
	go func() {
		if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("debug HTTP server failed")
		}
	}()
	defer debugSrv.Close()

	rt, err := runtime.New(cfg, clockz.RealClock, simulatedHAL{}, monitor.NewSimulatedSampler(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct runtime")
	}
	defer rt.Close()

	ready = true

	for w := 0; w < cfg.NumWorkloads; w++ {
		wl, err := ioformat.ReadWorkload(cfg.DataDir, w)
		if err != nil {
			log.Fatal().Err(err).Int("workload", w).Msg("failed to read workload input")
		}

		if err := rt.RunWorkload(ctx, wl); err != nil {
			log.Fatal().Err(err).Int("workload", w).Msg("workload run failed")
		}

		if ctx.Err() != nil {
			break
		}
	}
}

var _ sched.HardwareExecutor = simulatedHAL{}
