package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/enqlink/internal/auth"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// SessionLister reports the engines a process is running. Values are
// rendered as JSON.
type SessionLister func() any

// StatusConfig configures the read-only status endpoint.
type StatusConfig struct {
	Node        string
	Addr        string
	CORSOrigins []string
	// Token, when set, is required as a bearer token on /sessions and
	// /metrics.
	Token string
}

// StatusRouter serves /health, /metrics and /sessions.
func StatusRouter(cfg StatusConfig, sessions SessionLister) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	started := time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(Logger("status")))
	r.Use(RequestMetricsMiddleware(cfg.Node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(started).String(),
			"service": cfg.Node,
		})
	})
	guarded := r.Group("/")
	if cfg.Token != "" {
		guarded.Use(auth.RequireBearer(auth.StaticToken{Token: cfg.Token}))
	}
	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
	guarded.GET("/sessions", func(c *gin.Context) {
		var list any = []any{}
		if sessions != nil {
			list = sessions()
		}
		c.JSON(http.StatusOK, gin.H{"sessions": list})
	})
	return r
}

// ServeStatus runs the status endpoint until ctx ends.
func ServeStatus(ctx context.Context, cfg StatusConfig, sessions SessionLister) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           StatusRouter(cfg, sessions),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("observability.ServeStatus listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
