package server

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/samikhalifabe/Pandorabox/pkg/broadcast"
	"github.com/samikhalifabe/Pandorabox/pkg/conversation"
	"github.com/samikhalifabe/Pandorabox/pkg/gateway"
	"github.com/samikhalifabe/Pandorabox/pkg/logging"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

// APIPrefix is the mount point of the session and messaging routes.
const APIPrefix = "/api/whatsapp"

const (
	defaultRequestTimeout = 90 * time.Second
	maxBodyBytes          = 64 << 10
)

// Session is the session manager surface used by the handlers.
type Session interface {
	Initialize(ctx context.Context) (types.SessionState, error)
	Status() types.SessionStatus
	State() types.SessionState
	RequestNewPairing(ctx context.Context) (types.Pairing, error)
	ListChats(ctx context.Context) ([]types.ChatSummary, error)
}

// Messages sends and inspects outbound messages.
type Messages interface {
	Send(ctx context.Context, to, body string) (*gateway.Receipt, error)
	Lookup(ctx context.Context, correlationID string) (*types.Message, error)
}

// Conversations resyncs chats and reports contacted entity links.
type Conversations interface {
	Resync(ctx context.Context, chats []types.ChatSummary) (int, error)
	ContactedLinks(ctx context.Context) ([]conversation.Link, error)
	UpdateContacted(ctx context.Context) (int, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the server routes to. ReloadConfig and Store are optional.
type Deps struct {
	Session        Session
	Messages       Messages
	Conversations  Conversations
	Broadcaster    *broadcast.Broadcaster
	Store          Pinger
	ReloadConfig   func() error
	AllowedOrigins []string
	RequestTimeout time.Duration
	Log            *logging.Logger
}

// Server serves the HTTP surface.
type Server struct {
	deps Deps
	log  *logging.Logger
}

// New creates a server.
func New(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = logging.Nop()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}
	return &Server{deps: deps, log: deps.Log}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)

	r.Route(APIPrefix, func(r chi.Router) {
		// streams are long-lived and stay outside the request timeout
		if s.deps.Broadcaster != nil {
			r.Get("/ws", broadcast.NewWebSocketHandler(s.deps.Broadcaster, s.deps.AllowedOrigins, s.log).ServeHTTP)
			r.Get("/events", broadcast.NewSSEHandler(s.deps.Broadcaster, s.log).ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.deps.RequestTimeout))

			r.Post("/initialize", s.handleInitialize)
			r.Get("/status", s.handleStatus)
			r.Get("/qr", s.handleQR)
			r.Post("/qr/refresh", s.handleQRRefresh)
			r.Post("/send", s.handleSend)
			r.Get("/messages/{correlationId}", s.handleMessage)
			r.Get("/all-conversations", s.handleResync)
			r.Get("/update-contacted-vehicles", s.handleUpdateContacted)
			r.Post("/ai-config/refresh", s.handleAIConfigRefresh)
		})
	})
	return r
}

// cors answers preflight requests and sets the allow headers for permitted origins.
// An empty origin list allows every origin.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.deps.AllowedOrigins) == 0 {
		return true
	}
	return slices.ContainsFunc(s.deps.AllowedOrigins, func(o string) bool {
		return o == "*" || strings.EqualFold(o, origin)
	})
}
