package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/costudy/internal/app"
	"github.com/dkeye/costudy/internal/app/orch"
	"github.com/dkeye/costudy/internal/config"
	"github.com/dkeye/costudy/internal/core"
	"github.com/dkeye/costudy/internal/domain"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Room is the intent surface the bridge drives. *orch.Orchestrator
// implements it.
type Room interface {
	State() orch.Snapshot
	Connect(ctx context.Context, roomID domain.RoomID) error
	JoinStudyRoom(ctx context.Context, opts orch.JoinOptions) error
	Leave(ctx context.Context) error
	SendChat(content string) error
	StartTimer() error
	UpdateAndStopTimer(p domain.TimerProperty) error
	KickUser(id domain.UserID) error
	BlockUser(id domain.UserID, name string) error
	UnblockUser(ctx context.Context, id domain.UserID) error
	MuteHeadset(ctx context.Context) error
	UnmuteHeadset(ctx context.Context) error
	Produce(ctx context.Context, track core.LocalTrack) error
	CloseProducer(kind domain.MediaKind) error
}

// TrackFactory creates a local capture track of the given kind.
type TrackFactory func(kind domain.MediaKind) (core.LocalTrack, error)

type connectRequest struct {
	RoomID string `json:"roomId"`
}

type joinRequest struct {
	Password string `json:"password"`
	Video    bool   `json:"video"`
	Audio    bool   `json:"audio"`
}

type chatRequest struct {
	Content string `json:"content"`
}

type blockRequest struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Error      string  `json:"error"`
	DefaultKey string  `json:"defaultKey,omitempty"`
	Content    *string `json:"content,omitempty"`
}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, room Room, hub *Hub, tracks TrackFactory) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Debug() {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "DELETE"},
			AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-ID"},
			ExposeHeaders: []string{"X-Request-ID"},
			MaxAge:        12 * time.Hour,
		}))
	}

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	b := &bridge{room: room, hub: hub, tracks: tracks, defaultRoom: domain.RoomID(cfg.RoomID)}

	api := r.Group("/api")
	api.GET("/state", b.state)
	api.GET("/events", b.events)

	api.POST("/connect", b.connect)
	api.POST("/join", b.join)
	api.POST("/leave", b.leave)
	api.POST("/chat", b.chat)

	api.POST("/timer/start", b.startTimer)
	api.POST("/timer/edit", b.editTimer)

	api.POST("/peers/:id/kick", b.kick)
	api.POST("/peers/:id/block", b.block)
	api.POST("/peers/:id/unblock", b.unblock)

	api.POST("/headset/mute", b.mute)
	api.POST("/headset/unmute", b.unmute)

	api.POST("/producers/:kind", b.produce)
	api.DELETE("/producers/:kind", b.closeProducer)

	return r
}

type bridge struct {
	room        Room
	hub         *Hub
	tracks      TrackFactory
	defaultRoom domain.RoomID
}

func (b *bridge) state(c *gin.Context) {
	c.JSON(http.StatusOK, b.room.State())
}

// events streams the orchestrator events as server-sent events. The first
// event is the full snapshot.
func (b *bridge) events(c *gin.Context) {
	if b.hub == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "event stream unavailable"})
		return
	}
	ch, cancel := b.hub.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("snapshot", b.room.State())
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(ev.Name(), ev)
			c.Writer.Flush()
		}
	}
}

func (b *bridge) connect(c *gin.Context) {
	var req connectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
			return
		}
	}
	id := domain.RoomID(req.RoomID)
	if id == "" {
		id = b.defaultRoom
	}
	if id == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "missing room id"})
		return
	}
	b.reply(c, b.room.Connect(c.Request.Context(), id))
}

func (b *bridge) join(c *gin.Context) {
	var req joinRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
			return
		}
	}
	opts := orch.JoinOptions{Password: req.Password}
	var err error
	if req.Video {
		if opts.Video, err = b.track(domain.KindVideo); err != nil {
			b.reply(c, err)
			return
		}
	}
	if req.Audio {
		if opts.Audio, err = b.track(domain.KindAudio); err != nil {
			b.reply(c, err)
			return
		}
	}
	b.reply(c, b.room.JoinStudyRoom(c.Request.Context(), opts))
}

func (b *bridge) leave(c *gin.Context) {
	b.reply(c, b.room.Leave(c.Request.Context()))
}

func (b *bridge) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return
	}
	b.reply(c, b.room.SendChat(req.Content))
}

func (b *bridge) startTimer(c *gin.Context) {
	b.reply(c, b.room.StartTimer())
}

func (b *bridge) editTimer(c *gin.Context) {
	var p domain.TimerProperty
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return
	}
	b.reply(c, b.room.UpdateAndStopTimer(p))
}

func (b *bridge) kick(c *gin.Context) {
	b.reply(c, b.room.KickUser(domain.UserID(c.Param("id"))))
}

func (b *bridge) block(c *gin.Context) {
	var req blockRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
			return
		}
	}
	b.reply(c, b.room.BlockUser(domain.UserID(c.Param("id")), req.Name))
}

func (b *bridge) unblock(c *gin.Context) {
	b.reply(c, b.room.UnblockUser(c.Request.Context(), domain.UserID(c.Param("id"))))
}

func (b *bridge) mute(c *gin.Context) {
	b.reply(c, b.room.MuteHeadset(c.Request.Context()))
}

func (b *bridge) unmute(c *gin.Context) {
	b.reply(c, b.room.UnmuteHeadset(c.Request.Context()))
}

func (b *bridge) produce(c *gin.Context) {
	kind := domain.MediaKind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown media kind"})
		return
	}
	track, err := b.track(kind)
	if err != nil {
		b.reply(c, err)
		return
	}
	b.reply(c, b.room.Produce(c.Request.Context(), track))
}

func (b *bridge) closeProducer(c *gin.Context) {
	kind := domain.MediaKind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown media kind"})
		return
	}
	b.reply(c, b.room.CloseProducer(kind))
}

var errNoCapture = errors.New("no capture device")

func (b *bridge) track(kind domain.MediaKind) (core.LocalTrack, error) {
	if b.tracks == nil {
		return nil, errNoCapture
	}
	return b.tracks(kind)
}

func (b *bridge) reply(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	if n, ok := orch.NoticeFor(err); ok {
		resp.DefaultKey, resp.Content = n.DefaultKey, n.Content
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).Str("path", c.FullPath()).Msg("intent failed")
	}
	c.JSON(status, resp)
}

func statusFor(err error) int {
	var (
		pre    *app.PreconditionError
		reject *orch.JoinRejectedError
		server *core.ServerError
	)
	switch {
	case errors.As(err, &pre):
		return http.StatusPreconditionFailed
	case errors.As(err, &reject):
		return http.StatusForbidden
	case errors.Is(err, orch.ErrEmptyMessage), errors.Is(err, domain.ErrInvalidTimerProperty):
		return http.StatusBadRequest
	case errors.Is(err, orch.ErrNotInStudyRoom), errors.Is(err, orch.ErrNotInWaitingRoom),
		errors.Is(err, orch.ErrAlreadyConnected), errors.Is(err, orch.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, core.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrConnectionTimeout), errors.Is(err, core.ErrActionTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrConnection), errors.As(err, &server):
		return http.StatusBadGateway
	case errors.Is(err, orch.ErrStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
