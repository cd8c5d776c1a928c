package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nordbrew/standing-orders/internal/httpapi"
	"github.com/nordbrew/standing-orders/pkg/admin"
	"github.com/nordbrew/standing-orders/pkg/batch"
	"github.com/nordbrew/standing-orders/pkg/logging"
	"github.com/nordbrew/standing-orders/pkg/prefs"
	"github.com/nordbrew/standing-orders/pkg/runlock"
	"github.com/nordbrew/standing-orders/pkg/signature"
)

func main() {
	logger := logging.Setup(logging.FromEnv())

	// Configuration from environment, read once. Missing values degrade
	// the dependent feature instead of refusing to start: proxy requests
	// fail signature verification, remote calls fail with a configuration
	// error.
	shop := os.Getenv("SHOP_DOMAIN")
	token := os.Getenv("ADMIN_ACCESS_TOKEN")
	secret := os.Getenv("APP_PROXY_SECRET")
	port := getEnv("PORT", "8080")
	version := getEnv("API_VERSION", admin.DefaultVersion)

	if shop == "" || token == "" {
		logger.Warn().Msg("SHOP_DOMAIN or ADMIN_ACCESS_TOKEN missing; remote calls will fail")
	}
	if secret == "" {
		logger.Warn().Msg("APP_PROXY_SECRET missing; proxy requests will be rejected")
	}

	apiClient := admin.New(admin.Config{Shop: shop, Token: token, Version: version})

	// Proxy-facing handlers use the tighter retry policy; the batch job
	// keeps the default admin policy.
	proxyStore := prefs.NewStore(apiClient.WithPolicy(admin.ProxyPolicy()))
	orchestrator := batch.New(apiClient, prefs.NewStore(apiClient))

	locker := buildLocker(logger, os.Getenv("REDIS_URL"))

	server := httpapi.New(httpapi.Config{
		Shop:         shop,
		Verifier:     signature.New(secret),
		Prefs:        proxyStore,
		Orchestrator: orchestrator,
		Locker:       locker,
	})

	addr := ":" + port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("addr", addr).
		Str("shop", shop).
		Str("api_version", version).
		Msg("starting standing-orders service")

	if err := httpServer.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

// buildLocker returns a Redis-backed run lock when REDIS_URL is set and
// reachable, and falls back to the in-process lock otherwise.
func buildLocker(logger zerolog.Logger, redisURL string) runlock.Locker {
	if redisURL == "" {
		return runlock.NewMemory()
	}

	client := redis.NewClient(&redis.Options{Addr: redisURL})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().
			Str("redis_url", redisURL).
			Err(err).
			Msg("redis unreachable, falling back to in-process run lock")
		return runlock.NewMemory()
	}

	logger.Info().Str("redis_url", redisURL).Msg("using redis-backed run lock")
	return runlock.NewRedis(client)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
