package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/gsprotocol/gsp/internal/metrics"
	"github.com/gsprotocol/gsp/internal/redisbridge"
	"github.com/gsprotocol/gsp/internal/server"
)

// Helper implementations live in dedicated files: version.go, config.go,
// logger.go, hub_init.go, metrics_logger.go, mdns.go, backend*.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("gsp-gateway %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	sendFunc, cleanup, berr := initBackend(ctx, cfg, h, l, &wg)
	if berr != nil {
		l.Error("backend_init_error", "error", berr)
		return
	}

	var redisCleanup func()
	if cfg.redisAddr != "" {
		bridge, err := redisbridge.New(ctx, cfg.redisAddr, cfg.redisPassword, cfg.redisDB)
		if err != nil {
			l.Error("redis_init_error", "error", err)
		} else {
			l.Info("redis_bridge_started", "addr", cfg.redisAddr, "channel", cfg.redisChannel)
			client := h.NewClient()
			h.Add(client)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer h.Remove(client)
				for {
					select {
					case msg, ok := <-client.Out:
						if !ok {
							return
						}
						if err := bridge.Publish(cfg.redisChannel, msg); err != nil {
							l.Warn("redis_publish_error", "error", err)
						}
					case <-client.Closed:
						return
					case <-ctx.Done():
						return
					}
				}
			}()
			injected, stopSub := bridge.Subscribe(cfg.redisChannel)
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case msg, ok := <-injected:
						if !ok {
							return
						}
						h.Broadcast(msg)
					case <-ctx.Done():
						return
					}
				}
			}()
			redisCleanup = func() { stopSub(); _ = bridge.Close() }
		}
	}

	srv := server.NewServer(
		server.WithListenAddr(cfg.listenAddr),
		server.WithHub(h),
		server.WithSend(sendFunc),
		server.WithLogger(l),
		server.WithMaxClients(cfg.maxClients),
		server.WithHandshakeTimeout(cfg.handshakeTO),
		server.WithReadDeadline(cfg.clientReadTO),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once the listener is ready.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		addr := srv.Addr()
		var portNum int
		if _, p, err := net.SplitHostPort(addr); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		if portNum == 0 {
			if i := strings.LastIndex(addr, ":"); i >= 0 {
				if pn, perr := strconv.Atoi(addr[i+1:]); perr == nil {
					portNum = pn
				}
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	cleanup()
	if redisCleanup != nil {
		redisCleanup()
	}
	wg.Wait()
}
