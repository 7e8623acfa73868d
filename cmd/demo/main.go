// Command demo is a runnable host binding for the collaboration core:
// a websocket carrier (pkg/transport/wssignaler), one Object Synchronizer
// and Event Scope per connected container, behind a Gin router with cors,
// recovery, /metrics, and /health endpoints.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/livesync/core/internal/config"
	"github.com/livesync/core/internal/logging"
	"github.com/livesync/core/internal/middleware"
	"github.com/livesync/core/pkg/health"
	"github.com/livesync/core/pkg/objectsync"
	"github.com/livesync/core/pkg/ratelimit"
	"github.com/livesync/core/pkg/roles"
	"github.com/livesync/core/pkg/telemetry"
	"github.com/livesync/core/pkg/transport/redissignaler"
	"github.com/livesync/core/pkg/transport/wssignaler"
)

func main() {
	envPaths := []string{".env", "../../.env"}
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		zap.S().Fatalf("invalid configuration: %v", err)
	}
	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		zap.S().Fatalf("failed to initialize logging: %v", err)
	}
	objectsync.DefaultUpdateInterval = cfg.UpdateInterval

	sink := telemetry.NewLoggingSink()

	tokens := newTokenStore()
	var lookup roles.RoleLookup
	if cfg.SkipAuth || cfg.DevelopmentMode {
		lookup = roles.NewMockRoleLookup(tokens).Lookup
	} else {
		jwtLookup, err := roles.NewJWTRoleLookup(context.Background(), cfg.Auth0Domain, cfg.Auth0Audience, tokens)
		if err != nil {
			logging.Fatal(context.Background(), "failed to build JWT role lookup", zap.Error(err))
		}
		lookup = jwtLookup.Lookup
	}
	verifier := roles.NewVerifier(lookup, cfg.RoleCacheTTL, cfg.RoleCacheNegativeTTL)

	limiter, err := ratelimit.New(cfg.RateLimitEventScope, "eventscope_send")
	if err != nil {
		logging.Fatal(context.Background(), "failed to build rate limiter", zap.Error(err))
	}

	// pingSvc is a single Redis connection used only for the readiness
	// probe; per-container cross-pod replication gets its own
	// redissignaler.Service below, one per container channel.
	var pingSvc *redissignaler.Service
	var upstreamFactory func(string) wssignaler.Upstream
	if cfg.RedisEnabled {
		// hostID is unique per process: redissignaler marks a relayed frame
		// local when its origin equals the receiver's own, and local frames
		// are not injected into the Hub, so a shared id would drop every
		// other pod's traffic.
		hostID := "demo-host-" + uuid.NewString()
		pingSvc, err = redissignaler.NewService(cfg.RedisAddr, cfg.RedisPassword, "demo-ping", hostID)
		if err != nil {
			logging.Fatal(context.Background(), "failed to connect redis signaler", zap.Error(err))
		}
		upstreamFactory = func(containerID string) wssignaler.Upstream {
			svc, err := redissignaler.NewService(cfg.RedisAddr, cfg.RedisPassword, containerID, hostID)
			if err != nil {
				logging.Error(context.Background(), "demo: failed to build container redis signaler", zap.String("container", containerID), zap.Error(err))
				return nil
			}
			return svc
		}
	}

	reg := newRegistry(verifier, limiter, sink, upstreamFactory)

	validator := newDevValidator(tokens)
	allowedOrigins := splitNonEmpty(cfg.AllowedOrigins, []string{"http://localhost:3000"})

	router := gin.New()
	router.Use(gin.Recovery(), middleware.Correlation())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = allowedOrigins
	corsCfg.AllowCredentials = true
	router.Use(cors.New(corsCfg))

	router.GET("/ws/:containerId", func(c *gin.Context) {
		id := c.Param("containerId")
		cont := reg.getOrCreate(id)
		cont.hub.ServeWs(validator, allowedOrigins)(c)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var pinger health.Pinger
	if pingSvc != nil {
		pinger = pingSvc
	}
	healthHandler := health.NewHandler(pinger)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	go func() {
		logging.Info(context.Background(), "demo: server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(context.Background(), "demo: server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(context.Background(), "demo: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error(ctx, "demo: forced shutdown", zap.Error(err))
	}
	if pingSvc != nil {
		pingSvc.Close()
	}
}

func splitNonEmpty(csv string, def []string) []string {
	if csv == "" {
		return def
	}
	var out []string
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				out = append(out, csv[start:i])
			}
			start = i + 1
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
