package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"

	"github.com/pikki622/hftbacktest/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the backtest configuration file")
	pprofAddr := flag.String("pprof", "", "pprof listen address, e.g. localhost:6060 (disabled when empty)")
	flag.Parse()

	if *pprofAddr != "" {
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", *pprofAddr))
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	bootstrap, err := app.Initialize(*configPath)
	if err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := bootstrap.Run(); err != nil {
		slog.Error("❌ Backtest failed", slog.Any("error", err))
		os.Exit(1)
	}
}
