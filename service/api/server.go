// Package api exposes the chat managers over HTTP (gin) and streams live
// conversation views over WebSocket. Every request gets managers bound to the
// caller's verified identity; nothing is shared between users but the stores.
package api

import (
	"context"
	"net/http"
	"time"

	"PPChatSync/data/blobstore"
	"PPChatSync/data/docstore"
	"PPChatSync/logger"
	"PPChatSync/middleware"
	midsec "PPChatSync/middleware/security"
	"PPChatSync/module/chat/event"
	"PPChatSync/module/chat/media"
	"PPChatSync/module/chat/membership"
	"PPChatSync/module/chat/message"
	"PPChatSync/module/chat/view"
	"PPChatSync/module/session"
	"PPChatSync/service/metrics"
	"PPChatSync/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Deps struct {
	Store    docstore.Store
	Blobs    blobstore.Store
	Sink     event.Sink
	Profiles view.ProfileResolver // nil 时按 Store 直读 + 进程内缓存
	Seq      SeqSource            // nil 时用进程内雪花序号
	JWT      security.Options
	Limits   media.Limits
	Window   int

	AllowedOrigins []string
	MaxBodyBytes   int64 // multipart 表单内存上限，<=0 用 gin 默认
	DevSignIn      bool  // 开发模式：POST /v1/session 直接按 user_id 签发令牌
}

// SeqSource 发送端序号来源（多实例部署时由 Redis 提供）
type SeqSource interface {
	Func(ctx context.Context, senderID string) func() int64
}

type Server struct {
	deps     Deps
	engine   *gin.Engine
	upgrader websocket.Upgrader
	mids     *middleware.MiddlewareManager
	conns    *connRegistry
}

func New(deps Deps) *Server {
	if deps.Sink == nil {
		deps.Sink = event.Nop
	}
	if deps.Profiles == nil {
		deps.Profiles = view.NewMemoryCache(view.StoreProfiles{Store: deps.Store}, 0)
	}
	if deps.Window <= 0 {
		deps.Window = view.DefaultWindow
	}
	s := &Server{
		deps:  deps,
		mids:  middleware.NewManager(),
		conns: newConnRegistry(maxConnsPerID),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     middleware.CheckOrigin(deps.AllowedOrigins),
		},
	}
	s.mids.Add(middleware.RequestLog())

	e := gin.New()
	if deps.MaxBodyBytes > 0 {
		e.MaxMultipartMemory = deps.MaxBodyBytes
	}
	e.Use(gin.Recovery(), s.mids.Use())
	s.engine = e
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Streams 当前打开的会话订阅连接数
func (s *Server) Streams() int { return s.conns.Len() }

// Middlewares 运行期追加全局中间件
func (s *Server) Middlewares() *middleware.MiddlewareManager { return s.mids }

func (s *Server) routes() {
	e := s.engine
	e.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	e.GET("/metrics", gin.WrapH(metrics.Handler()))
	e.GET("/media/*path", s.handleMediaGet)

	v1 := e.Group("/v1")
	rt := middleware.NewRouter(v1, midsec.Middleware(s.deps.JWT, nil))
	auth := middleware.RouteOpt{IsAuth: true}

	if s.deps.DevSignIn {
		rt.POST("/session", s.handleDevSignIn, middleware.RouteOpt{})
	}

	rt.GET("/conversations", s.handleListConversations, auth)
	rt.POST("/conversations/direct", s.handleDirect, auth)
	rt.DELETE("/conversations/:id", s.handleLeave, auth)
	rt.GET("/conversations/:id/messages", s.handleHistory, auth)
	rt.POST("/conversations/:id/messages", s.handleSend, auth)
	rt.POST("/conversations/:id/attachments", s.handleAttachment, auth)
	rt.POST("/conversations/:id/seen", s.handleMarkSeen, auth)
	rt.GET("/conversations/:id/stream", s.handleStream, auth)

	rt.POST("/groups", s.handleCreateGroup, auth)
	rt.POST("/groups/:id/members", s.handleAddMember, auth)
	rt.DELETE("/groups/:id/members/:uid", s.handleRemoveMember, auth)
	rt.PUT("/groups/:id/admin", s.handleTransferAdmin, auth)
	rt.PUT("/groups/:id/vice_admin", s.handleAppointVice, auth)
	rt.POST("/groups/:id/disband", s.handleDisband, auth)

	rt.POST("/messages/:id/revoke", s.handleRevoke, auth)
	rt.POST("/messages/:id/forward", s.handleForward, auth)
	rt.DELETE("/messages/:id", s.handleSoftDelete, auth)
}

// ===== 按请求身份构造 manager =====

type clients struct {
	uid   string
	msgs  *message.Manager
	group *membership.Manager
}

func (s *Server) clientsFor(c *gin.Context) clients {
	uid := midsec.UserID(c)
	ident := session.Static(uid)
	opts := []message.Option{message.WithEventSink(s.deps.Sink)}
	if s.deps.Seq != nil && uid != "" {
		opts = append(opts, message.WithSeq(s.deps.Seq.Func(c.Request.Context(), uid)))
	}
	msgs := message.NewManager(s.deps.Store, ident, opts...)
	return clients{
		uid:   uid,
		msgs:  msgs,
		group: membership.NewManager(s.deps.Store, ident, msgs, membership.WithEventSink(s.deps.Sink)),
	}
}

// Run 阻塞直到 ctx 结束，然后优雅关闭
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("[api] listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	// 已升级的连接不归 http.Server 管，单独关
	s.conns.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
