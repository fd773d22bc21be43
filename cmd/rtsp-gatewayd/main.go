package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aler9/rtsp-gateway/internal/conf"
	"github.com/aler9/rtsp-gateway/internal/fanout"
	"github.com/aler9/rtsp-gateway/internal/handlers"
	"github.com/aler9/rtsp-gateway/internal/logger"
	"github.com/aler9/rtsp-gateway/internal/maintenance"
	"github.com/aler9/rtsp-gateway/internal/rtspserver"
	"github.com/aler9/rtsp-gateway/internal/rtspsession"
	"github.com/aler9/rtsp-gateway/internal/source"
	"github.com/aler9/rtsp-gateway/internal/upstream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	confPath := "rtsp-gatewayd.yml"
	if len(os.Args) > 1 {
		confPath = os.Args[1]
	}

	cfg, err := conf.Load(confPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	lg, err := logger.New(logger.Info, map[logger.Destination]struct{}{logger.DestinationStdout: {}}, "")
	if err != nil {
		return fmt.Errorf("starting logger: %w", err)
	}
	defer lg.Close()

	sources := source.NewRegistry()
	sessions := rtspsession.NewRegistry()
	broadcaster := &fanout.Broadcaster{Sessions: sessions}

	for _, sc := range cfg.Sources {
		src := upstream.Build(sc, broadcaster)
		if err := sources.Add(src); err != nil {
			lg.Log(logger.Error, "failed to register source %s: %v", sc.Name, err)
		}
	}

	ports := handlers.NewPortAllocator(cfg.MinimumUDPPort, cfg.MaximumUDPPort)

	deps := handlers.NewDeps(sources, sessions, lg, ports)
	deps.ServerName = cfg.ServerName
	deps.RequireUserAgent = cfg.RequireUserAgent
	deps.RequireRangeHeader = cfg.RequireRangeHeader
	deps.SessionTimeoutSeconds = cfg.ClientInactivityTimeoutSeconds

	srv := rtspserver.New(cfg, deps, sessions, lg)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	sources.SetListening(true)
	for _, src := range sources.Iter() {
		if err := src.Start(); err != nil {
			lg.Log(logger.Warn, "source %s failed initial start: %v", src.Name, err)
		}
	}

	loop := &maintenance.Loop{
		Sessions:          sessions,
		Sources:           sources,
		Logger:            lg,
		Interval:          cfg.MaintenanceInterval(),
		InactivityTimeout: inactivityTimeout(cfg),
	}
	loop.Start()

	lg.Log(logger.Info, "rtsp-gatewayd ready on port %d", cfg.Port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	lg.Log(logger.Info, "shutting down")
	loop.Stop()
	srv.Stop()
	for _, src := range sources.Iter() {
		src.Stop()
	}

	return nil
}

func inactivityTimeout(cfg *conf.Conf) time.Duration {
	if cfg.ClientInactivityTimeoutSeconds < 0 {
		return -1
	}
	return time.Duration(cfg.ClientInactivityTimeoutSeconds) * time.Second
}
