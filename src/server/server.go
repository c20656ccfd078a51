package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"brokerdash/src/handler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"
)

// SelfProxyURL is the MT5 proxy mounted on this server, used by in-process
// consumers when VITE_MT5_API_URL is unset.
func SelfProxyURL(port string) string {
	return "http://localhost:" + port + "/api/mt5"
}

// Handlers groups the route handlers so tests can swap them.
type Handlers struct {
	MT5Proxy      http.Handler
	Dashboard     http.Handler
	Leverage      http.Handler
	SheetBalances http.Handler
	DealingStream http.Handler
}

func DefaultHandlers(port string) Handlers {
	self := SelfProxyURL(port)
	return Handlers{
		MT5Proxy:      handler.DefaultMT5ProxyHandler(),
		Dashboard:     handler.DefaultDashboardRoutes(self),
		Leverage:      handler.DefaultLeverageHandler(),
		SheetBalances: handler.DefaultSheetBalancesHandler(),
		DealingStream: handler.DefaultDealingStreamHandler(self),
	}
}

func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})

	// The proxy answers GET, POST and OPTIONS itself.
	r.Handle("/api/mt5", h.MT5Proxy)
	r.Mount("/api/dashboard", h.Dashboard)
	r.Method(http.MethodPost, "/api/leverage", h.Leverage)
	r.Method(http.MethodGet, "/api/sheet-balances", h.SheetBalances)
	r.Method(http.MethodGet, "/ws/dealing", h.DealingStream)
	return r
}

func StartServer(config *Config) {
	// Graceful server
	// Server setup
	addr := ":" + config.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(DefaultHandlers(config.Port)),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
