package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Impact-Hub-Antwerp/circular-passport/internal/config"
	"github.com/Impact-Hub-Antwerp/circular-passport/internal/db"
	internalhttp "github.com/Impact-Hub-Antwerp/circular-passport/internal/http"
	"github.com/Impact-Hub-Antwerp/circular-passport/internal/repository"
	"github.com/Impact-Hub-Antwerp/circular-passport/internal/session"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	if err := db.Init(ctx, pool); err != nil {
		log.Fatalf("db init failed: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Printf("redis ping failed, session revocation disabled: %v", err)
			redisClient = nil
		} else {
			cancel()
			defer func() {
				if err := redisClient.Close(); err != nil {
					log.Printf("redis close error: %v", err)
				}
			}()
		}
	}

	store := repository.NewStore(pool)
	sessions := session.NewManager(cfg.SessionSecret, cfg.SessionTTL, redisClient)
	server := internalhttp.NewServer(cfg, store, sessions)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("passport http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
