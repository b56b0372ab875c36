// Command cligatewayd runs the local multi-CLI gateway: it listens for
// Claude Code / Codex / Gemini CLI traffic, fails over across a configured
// pool of upstream providers, and exposes a read-only admin status API.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cligateway "github.com/cligateway/hub"
	"github.com/cligateway/hub/internal/logging"
	"github.com/cligateway/hub/internal/version"

	_ "github.com/cligateway/hub/internal/metrics"
)

func main() {
	cfg := cligateway.Defaults()
	if path := os.Getenv("CLIGATEWAY_CONFIG"); path != "" {
		loaded, err := cligateway.LoadConfig(path)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = *loaded
	}
	if err := cligateway.ValidateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	gw, err := cligateway.New(cfg)
	if err != nil {
		log.Fatalf("create gateway: %v", err)
	}
	defer gw.Close()

	listenAddr, boundPort, err := resolveListenAddress(cfg)
	if err != nil {
		log.Fatalf("resolve listen address: %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)

	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/admin", gw.AdminHandlers(boundPort).Routes())
	r.Handle("/*", gw)

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(cfg.UpstreamRequestTimeoutNonStreamingSecs+30) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Println("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("cligatewayd %s listening on %s", version.Short(), listenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("server error: %v", err)
	}
	log.Println("server stopped")
}

// resolveListenAddress turns GatewayListenMode into a concrete bind address
// and reports the port actually bound, for the admin API's health payload.
func resolveListenAddress(cfg cligateway.Config) (addr string, port int, err error) {
	port = cfg.PreferredPort
	switch cfg.GatewayListenMode {
	case cligateway.ListenLocalhost:
		return net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), port, nil
	case cligateway.ListenLAN, cligateway.ListenWSLAuto:
		return net.JoinHostPort("0.0.0.0", strconv.Itoa(port)), port, nil
	case cligateway.ListenCustom:
		host, portStr, splitErr := net.SplitHostPort(cfg.GatewayCustomListenAddress)
		if splitErr != nil {
			return "", 0, splitErr
		}
		p, convErr := strconv.Atoi(portStr)
		if convErr != nil {
			return "", 0, convErr
		}
		return net.JoinHostPort(host, portStr), p, nil
	default:
		return net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), port, nil
	}
}
