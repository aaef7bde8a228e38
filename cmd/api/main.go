package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/omondi/mpesa-gateway/internal/config"
	gateway "github.com/omondi/mpesa-gateway/internal/gateways"
	"github.com/omondi/mpesa-gateway/internal/handlers"
	"github.com/omondi/mpesa-gateway/internal/metrics"
	"github.com/omondi/mpesa-gateway/internal/services"
	"github.com/omondi/mpesa-gateway/internal/store"
	xhttp "github.com/omondi/mpesa-gateway/pkg/http"
	"github.com/omondi/mpesa-gateway/pkg/logger"
)

func main() {
	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()

	for name, present := range cfg.Diagnostics() {
		if !present {
			logger.Warn("gateway credential not configured", "credential", name)
		}
	}

	metrics.Init()
	if cfg.MetricsListenAddr != "" {
		go metrics.Serve(cfg.MetricsListenAddr)
	}

	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.Logger = logger.GetLogger()
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 45)) // above the push deadline
	s.Use(xhttp.CORSMiddleware("*"))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	txStore := store.New(store.Config{RetentionTTL: cfg.TransactionRetention})
	txStore.StartSweeper()
	defer txStore.Close()

	daraja := gateway.NewClient(gateway.Config{
		BaseURL:        cfg.DarajaBaseURL,
		ConsumerKey:    cfg.DarajaConsumerKey,
		ConsumerSecret: cfg.DarajaConsumerSecret,
		TokenTimeout:   cfg.TokenTimeout,
		PushTimeout:    cfg.PushTimeout,
	})

	paymentService := services.NewPaymentService(daraja, txStore, services.PaymentConfig{
		Shortcode:     cfg.DarajaShortcode,
		Passkey:       cfg.DarajaPasskey,
		CallbackURL:   cfg.DarajaCallbackURL,
		CountryPrefix: cfg.CountryPrefix,
	})

	paymentHandler := handlers.NewPaymentHandler(paymentService)
	healthHandler := handlers.NewHealthHandler(cfg.AppEnv, cfg.Diagnostics)

	handlers.RegisterPaymentRoutes(s.Router, paymentHandler)
	handlers.RegisterHealthRoutes(s.Router, healthHandler)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	s.Shutdown()
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
