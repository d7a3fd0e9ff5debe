package server

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	jsoniter "github.com/json-iterator/go"

	"library-circulation/internal/config"
	"library-circulation/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server exposes the circulation core over HTTP.
type Server struct {
	app *fiber.App
	mgr *library.LibraryManager
	cfg config.ServerConfig
	log library.Logger
}

// Option tunes New.
type Option func(*options)

type options struct {
	accessLog io.Writer
}

// WithAccessLog redirects the per-request access log. Defaults to stdout.
func WithAccessLog(w io.Writer) Option {
	return func(o *options) { o.accessLog = w }
}

// New builds the fiber app and mounts every route under cfg.BasePath.
func New(mgr *library.LibraryManager, cfg config.ServerConfig, log library.Logger, opts ...Option) *Server {
	s := &Server{mgr: mgr, cfg: cfg, log: log}
	o := options{accessLog: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "librarydesk",
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           90 * time.Second,
	})

	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	s.app.Use(requestid.New())
	s.app.Use(logger.New(logger.Config{
		Output:     o.accessLog,
		TimeFormat: "2006-01-02 15:04:05",
		Format:     "[${time}] ${locals:requestid} ${ip} - ${method} ${path} - ${status} - ${latency}\n",
	}))
	s.app.Use(cors.New())
	s.app.Use(s.requestTimeout)

	s.routes()
	return s
}

// App returns the underlying fiber app, mainly for in-process tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen blocks serving on the configured address.
func (s *Server) Listen() error {
	s.log.Info("http server listening", "addr", s.cfg.Addr(), "base_path", s.cfg.BasePath)
	return s.app.Listen(s.cfg.Addr())
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// requestTimeout bounds every handler's context so a stuck SQLite lock
// surfaces as an error instead of a hung request.
func (s *Server) requestTimeout(c *fiber.Ctx) error {
	if s.cfg.RequestTimeout <= 0 {
		return c.Next()
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.RequestTimeout)
	defer cancel()
	c.SetUserContext(ctx)
	return c.Next()
}

func (s *Server) routes() {
	health := func(c *fiber.Ctx) error { return c.SendString("ok") }
	s.app.Get("/health", health)

	api := s.app.Group(s.cfg.BasePath)
	if s.cfg.BasePath != "" {
		api.Get("/health", health)
	}

	books := api.Group("/books")
	books.Post("/", s.createBook)
	books.Get("/", s.listBooks)
	books.Get("/:id", s.getBook)
	books.Put("/:id", s.updateBook)
	books.Delete("/:id", s.deleteBook)
	books.Post("/:id/restock", s.restockBook)

	members := api.Group("/members")
	members.Post("/", s.createMember)
	members.Get("/", s.listMembers)
	members.Get("/:id", s.getMember)
	members.Put("/:id", s.updateMember)
	members.Delete("/:id", s.deleteMember)

	search := api.Group("/search")
	search.Get("/books", s.listBooks)
	search.Get("/members", s.listMembers)

	txs := api.Group("/transactions")
	txs.Get("/", s.listTransactions)
	txs.Get("/active", s.listActiveTransactions)
	txs.Post("/checkout", s.checkout)
	txs.Get("/:id", s.getTransaction)
	txs.Post("/:id/return", s.returnBook)

	api.Get("/dashboard/stats", s.stats)
}
