package http

import (
	"context"
	"net/http"

	"github.com/dkeye/televisit/internal/adapters/signal"
	"github.com/dkeye/televisit/internal/config"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/dkeye/televisit/internal/signaling"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "ct"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware gives every client a stable token kept in the
// session cookie. It only correlates log lines; signaling identity is the
// registered address.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter serves the signaling websocket and the relay credential
// endpoint agents fetch their ICE servers from.
func SetupRouter(ctx context.Context, cfg *config.Config, sb *signaling.Switchboard) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("TelevisitSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "calls": sb.LiveCalls()})
	})

	api := r.Group("/api")

	ctrl := signal.NewSignalWSController(sb, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	servers := cfg.Relay.Servers
	if servers == nil {
		servers = []domain.RelayServer{}
	}
	api.GET("/turn", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": servers})
	})

	log.Info().Str("module", "adapters.http").Int("relay_servers", len(servers)).Msg("router setup")
	return r
}
