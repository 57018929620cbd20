// Command gateway runs the SIP2 gateway: it loads a YAML branch
// configuration, opens the REST listener, and bridges calls to the
// configured LMS endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/libbridge/sip2go/bridge"
	"github.com/libbridge/sip2go/bus"
	"github.com/libbridge/sip2go/common"
	"github.com/libbridge/sip2go/httpd"
	"github.com/libbridge/sip2go/mask"
)

func main() {
	configPath := flag.String("config", "gateway.yaml", "path to gateway configuration")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := common.NewZapLogger(common.ZapLoggerOptions{
		LogFile:    cfg.LogFile,
		MaxSize:    50,
		MaxBackups: 5,
		Compress:   true,
		DebugLevel: *debug,
		Console:    cfg.LogFile != "",
	})

	var masker *mask.Masker
	if key := os.Getenv("SIP2_LOG_MASTER_KEY"); key != "" {
		masker, err = mask.New(key)
		if err != nil {
			fmt.Fprintln(os.Stderr, "SIP2_LOG_MASTER_KEY rejected:", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("SIP2_LOG_MASTER_KEY not set, transaction events carrying identifiers dropped and dashboard identifiers blanked")
	}

	eventBus := bus.New(bus.Options{Masker: masker, Logger: logger})
	defer eventBus.Close()

	eventBus.SubscribeDashboard(func(entry bus.DashboardEntry) {
		switch entry.Level {
		case "error":
			logger.Error(entry.Message, "details", entry.Details)
		case "warn":
			logger.Warn(entry.Message, "details", entry.Details)
		default:
			logger.Info(entry.Message, "details", entry.Details)
		}
	})

	mgr, err := bridge.NewManager(bridge.Options{
		LocationCode: cfg.LocationCode,
		Logger:       logger,
		Bus:          eventBus,
		Masker:       masker,
	}, cfg.Branches)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer mgr.Shutdown()

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: httpd.NewServer(mgr, logger).Router(),
	}

	go func() {
		logger.Info("gateway listening", "addr", cfg.Listen, "branches", mgr.BranchIDs())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}
