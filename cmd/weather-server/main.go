// Command weather-server is a demo weather API that charges per request with
// x402 payments.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mark3labs/x402-agentpay"
	"github.com/mark3labs/x402-agentpay/config"
	"github.com/mark3labs/x402-agentpay/metrics"
	"github.com/mark3labs/x402-agentpay/paywall"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "weather-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to YAML config file (X402_* environment variables override it)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Read(*configPath)
	if err != nil {
		return err
	}
	requirement, err := cfg.Requirement()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		return err
	}

	verifierOpts := []paywall.Option{paywall.WithLogger(logger), paywall.WithMetrics(m)}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		verifierOpts = append(verifierOpts, paywall.WithNonceStore(paywall.NewRedisNonceStore(client, "")))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.With(paywall.Middleware(paywall.Config{
		Requirements: []x402.PaymentRequirement{requirement},
		Verifier:     paywall.NewVerifier(verifierOpts...),
		Logger:       logger,
	})).Get("/weather", weatherHandler)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("weather server listening",
		"addr", *addr,
		"network", requirement.Network,
		"amount", requirement.MaxAmountRequired,
		"payTo", requirement.PayTo)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type forecast struct {
	City        string `json:"city"`
	Forecast    string `json:"forecast"`
	Temperature int    `json:"temperature"`
	Unit        string `json:"unit"`
	Payer       string `json:"payer"`
}

var conditions = []string{"sunny", "cloudy", "rain", "windy", "snow"}

func weatherHandler(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	if city == "" {
		city = "San Francisco"
	}

	payer := ""
	if result, ok := paywall.FromContext(r.Context()); ok {
		payer = result.Payer.Hex()
	}

	// Stable per city so repeated requests agree.
	sum := 0
	for _, c := range strings.ToLower(city) {
		sum += int(c)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(forecast{
		City:        city,
		Forecast:    conditions[sum%len(conditions)],
		Temperature: 10 + sum%20,
		Unit:        "celsius",
		Payer:       payer,
	})
}
