package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/config"
	"faceattend/internal/faceclient"
	"faceattend/internal/handler"
	"faceattend/internal/httpmiddleware"
	"faceattend/internal/metrics"
	"faceattend/internal/queue"
	"faceattend/internal/schedule"
	"faceattend/internal/store"
	"faceattend/internal/student"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var db *store.DB
	if cfg.StoreBackend == "postgres" || cfg.LedgerBackend == "postgres" {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Printf("warning: db not reachable: %v", err)
		}
		defer func() { _ = db.Close() }()
	}

	var redisClient *store.Redis
	if cfg.LedgerBackend == "redis" || cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		students  student.Repository
		schedules schedule.Repository
		events    *attendance.EventRepository
	)
	if cfg.StoreBackend == "memory" {
		students = student.NewMemoryRepository()
		schedules = schedule.NewMemoryRepository()
	} else {
		students = student.NewPostgresRepository(sqlDB(db))
		schedules = schedule.NewPostgresRepository(sqlDB(db))
		events = attendance.NewEventRepository(sqlDB(db))
	}

	var ledger attendance.Ledger
	switch cfg.LedgerBackend {
	case "memory":
		ledger = attendance.NewMemoryLedger()
	case "redis":
		ledger = attendance.NewRedisLedger(redisClient.Client, "attendance")
	default:
		ledger = attendance.NewPostgresLedger(sqlDB(db))
	}

	// A memory queue has no consumer unless this process drains it, which
	// needs the audit table.
	var q queue.Queue
	switch {
	case cfg.QueueBackend == "redis":
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	case events != nil:
		q = queue.NewInMemory(256)
		go func() {
			if _, err := attendance.Record(ctx, q, events); err != nil {
				log.Printf("in-process recorder stopped: %v", err)
			}
		}()
	default:
		log.Println("audit events disabled: memory queue without postgres store")
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if cfg.FaceSkip {
		log.Println("WARNING: FACE_SKIP enabled, face checks are stubbed")
	}

	tokens := auth.NewTokens(cfg.JWTSigningKey, cfg.TokenTTL)
	opts := attendance.Options{
		EngineTimeout: cfg.FaceTimeout,
		Location:      cfg.Location,
		Metrics:       m,
	}
	if q != nil {
		opts.Events = q
	}

	var lister handler.EventLister
	if events != nil {
		lister = events
	}
	h := handler.New(
		student.NewService(students, auth.Bcrypt{Cost: cfg.BcryptCost}, tokens, m),
		attendance.NewService(students, ledger, face, opts),
		schedule.NewService(schedules, students),
		tokens,
		lister,
		probes(db, redisClient, face)...,
	)

	limiter := httpmiddleware.NewIPLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				limiter.Sweep(10 * time.Minute)
			}
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.RequestID())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", httpmiddleware.RequestIDHeader},
		ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(limiter.GinMiddleware())
	r.Use(httpmiddleware.BodyLimit(cfg.MaxBodyBytes))

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	h.Routes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.FaceTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func sqlDB(db *store.DB) *sql.DB {
	if db == nil {
		log.Fatal("postgres backend selected but DATABASE_URL connection was not opened")
	}
	return db.Client
}

func probes(db *store.DB, redisClient *store.Redis, face *faceclient.Client) []handler.Probe {
	var out []handler.Probe
	if db != nil {
		out = append(out, handler.Probe{Name: "db", Critical: true, Check: db.Healthy})
	}
	if redisClient != nil {
		out = append(out, handler.Probe{Name: "redis", Critical: true, Check: redisClient.Healthy})
	}
	out = append(out, handler.Probe{Name: "face", Check: func(ctx context.Context) bool {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return face.Health(ctx) == nil
	}})
	return out
}
