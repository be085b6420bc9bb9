package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ateska/markdown-notes-mcp/internal/config"
	"github.com/ateska/markdown-notes-mcp/internal/domain/chat"
	"github.com/ateska/markdown-notes-mcp/internal/domain/notes"
	"github.com/ateska/markdown-notes-mcp/internal/interfaces/httpserver/handlers"
)

// HTTPServer wraps the gin engine with graceful shutdown helpers.
type HTTPServer struct {
	cfg    *config.Config
	engine *gin.Engine
	log    zerolog.Logger
}

// New constructs the HTTP server with default middleware and routes.
func New(cfg *config.Config, log zerolog.Logger, chatService *chat.Service, notesService *notes.Service) *HTTPServer {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	registerPublicRoutes(engine, cfg)

	chatHandler := handlers.NewChatHandler(chatService, cfg.WSReceiveTimeout, log)
	notesHandler := handlers.NewNotesHandler(notesService, log)
	mcpHandler := handlers.NewMCPHandler(notesService, log)

	tenant := engine.Group("/:tenant")
	{
		tenant.GET("/llm/conversation", chatHandler.Conversation)

		tenant.POST("/mcp", mcpHandler.Serve)

		tenant.GET("/tree", notesHandler.Tree)

		tenant.GET("/note/*path", notesHandler.ReadNote)
		tenant.PUT("/note/*path", notesHandler.SaveNote)
		tenant.POST("/note-create", notesHandler.CreateNote)
		tenant.POST("/note-rename", notesHandler.RenameNote)
		tenant.DELETE("/note/*path", notesHandler.DeleteNote)

		tenant.GET("/directory/*path", notesHandler.ListDirectory)
		tenant.POST("/directory-create", notesHandler.CreateDirectory)
		tenant.POST("/directory-rename", notesHandler.RenameDirectory)
		tenant.DELETE("/directory/*path", notesHandler.DeleteDirectory)
	}

	return &HTTPServer{
		cfg:    cfg,
		engine: engine,
		log:    log,
	}
}

// Engine exposes the router, mainly for tests.
func (s *HTTPServer) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP listener and handles graceful shutdown via context
// cancellation.
func (s *HTTPServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr()).Msg("HTTP server listening")
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server error")
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("Context cancelled, shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func registerPublicRoutes(engine *gin.Engine, cfg *config.Config) {
	engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": cfg.ServiceName,
			"status":  "ok",
		})
	})

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	engine.GET("/readyz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
