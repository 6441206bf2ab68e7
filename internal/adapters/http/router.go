package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/AudioSync/internal/adapters/signal"
	"github.com/dkeye/AudioSync/internal/app/orch"
	"github.com/dkeye/AudioSync/internal/config"
	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	clientTokenKey = "client_token"
	listLimit      = 100
)

// ClientTokenMiddleware gives every browser a stable token kept in the
// cookie session. It doubles as the connection id on /api/ws/signal.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get("ct").(string)
		if token == "" {
			token = uuid.NewString()
			s.Set("ct", token)
			if err := s.Save(); err != nil {
				log.Warn().Str("module", "adapters.http").Err(err).Msg("save client token")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

// CORSMiddleware allows any origin, as the browser UI may be served elsewhere.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = "*"
		}
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, store core.SessionStore) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())

	cs := cookie.NewStore([]byte(cfg.Secret))
	cs.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("AudioSyncSessions", cs))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(o, signal.OptionsFromConfig(cfg))

	r.GET("/ws/:connection_id", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c.Writer, c.Request, domain.ConnID(c.Param("connection_id")))
	})

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		id := c.GetString(clientTokenKey)
		log.Info().Str("module", "adapters.http").Str("conn", id).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c.Writer, c.Request, domain.ConnID(id))
	})

	h := &sessionHandlers{store: store}
	api.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Music Sync Server Ready"})
	})
	api.POST("/sessions", h.create)
	api.GET("/sessions", h.list)
	api.GET("/sessions/:id", h.get)

	return r
}

type sessionHandlers struct {
	store core.SessionStore
}

type createSessionRequest struct {
	SessionName string `json:"session_name" binding:"required,max=128"`
}

func (h *sessionHandlers) create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid session_name"})
		return
	}
	rec := core.SessionRecord{
		ID:        domain.SessionID(uuid.NewString()),
		Name:      req.SessionName,
		CreatedAt: time.Now().UTC(),
		IsActive:  true,
	}
	if err := h.store.Create(c.Request.Context(), rec); err != nil {
		log.Error().Str("module", "adapters.http").Err(err).Msg("create session record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *sessionHandlers) list(c *gin.Context) {
	recs, err := h.store.ListActive(c.Request.Context(), listLimit)
	if err != nil {
		log.Error().Str("module", "adapters.http").Err(err).Msg("list sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list sessions"})
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h *sessionHandlers) get(c *gin.Context) {
	rec, err := h.store.Get(c.Request.Context(), domain.SessionID(c.Param("id")))
	if errors.Is(err, core.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		log.Error().Str("module", "adapters.http").Err(err).Msg("get session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load session"})
		return
	}
	c.JSON(http.StatusOK, rec)
}
