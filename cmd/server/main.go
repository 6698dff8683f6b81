// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"venerapay/internal/account/repository"
	"venerapay/internal/config"
	"venerapay/internal/metrics"
	"venerapay/internal/notify"
	"venerapay/internal/payment/service"
	"venerapay/internal/payment/tinkoff"
	"venerapay/internal/payment/token"
	paymenthttp "venerapay/internal/payment/transport/http"
	"venerapay/internal/subscription/checker"
	"venerapay/pkg/db"
	"venerapay/pkg/middleware"
)

var server *http.Server

func main() {
	fmt.Println("VeneraPay API starting...")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config load failed: %v", err)
	}
	fmt.Println("Config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firestoreClient, err := db.Connect(ctx, cfg.FirebaseKeyPath)
	if err != nil {
		log.Fatalf("Firestore connection failed: %v", err)
	}
	defer firestoreClient.Close()
	log.Println("Firestore connected")

	metrics.InitMetrics()

	// --- ИНИЦИАЛИЗАЦИЯ СЛОЁВ ---
	repo := repository.NewFirestoreRepository(firestoreClient)
	notifier := notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.AdminIDs)
	gateway := tinkoff.NewClient(cfg.TinkoffAPIURL, cfg.ClientTimeout)
	tokens := token.Generator{TerminalKey: cfg.TerminalKey, SecretKey: cfg.SecretKey}
	paymentService := service.NewService(repo, gateway, notifier, tokens)
	h := paymenthttp.NewPaymentHandler(paymentService)

	// Фоновая проверка подписок
	subscriptionChecker := checker.New(repo, cfg.CheckInterval)
	go subscriptionChecker.Start(ctx)

	// --- РОУТЕР ---
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.ValidateRequest)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Payment routes
	r.Post("/api/init-payment", h.InitPayment)
	r.Post("/api/charge-recurrent", h.ChargeRecurrent)
	r.Post("/api/tinkoff-callback", h.Callback)
	r.Get("/api/tinkoff-callback", h.CallbackGet)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","message":"Payment API работает"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	server = &http.Server{
		Addr:    cfg.Addr(),
		Handler: r,
	}

	log.Printf("Server running on %s", cfg.Addr())

	// Graceful shutdown на сигналы ОС
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		log.Println("Shutdown signal received, starting graceful shutdown")
		cancel()
		shutdownServer()
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func shutdownServer() {
	log.Println("Starting server shutdown process")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}

	log.Println("Server stopped")
}
