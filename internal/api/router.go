package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/kalambet/kgchat/internal/chat"
	"github.com/kalambet/kgchat/internal/profile"
	"github.com/kalambet/kgchat/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxIngestBodySize  = 10 << 20 // 10MB
)

// Deps holds everything the HTTP layer needs.
type Deps struct {
	Store    *storage.Store
	Profiles *profile.Manager
	Chat     *chat.Service

	// AllowedOrigins lists browser origins allowed by CORS.
	AllowedOrigins []string
	// RateLimit is requests per second per client on the chat and update
	// routes; 0 disables limiting.
	RateLimit float64
	RateBurst int
}

// NewHandler returns the /kg REST API plus /health.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		AllowCredentials: true,
	}).Handler)

	r.Get("/health", handleHealth)

	limited := RateLimit(deps.RateLimit, deps.RateBurst)

	r.Route("/kg", func(r chi.Router) {
		r.Post("/init", handleInit(deps))
		r.Get("/view/{user_name}", handleView(deps))
		r.Post("/add", handleAdd(deps))
		r.Put("/update", handleUpdateKnowledge(deps))
		r.Delete("/delete", handleDeleteKnowledge(deps))
		r.Get("/users", handleListUsers(deps))
		r.Delete("/profile/{user_name}", handleRemoveProfile(deps))

		r.With(limited).Post("/chat", handleChat(deps))
		r.With(limited).Post("/update", handleUpdateFromPair(deps))
		r.Post("/query", handleQuery(deps))
		r.Get("/sessions/{id}", handleHistory(deps))
		r.Delete("/sessions/{id}", handleClearHistory(deps))

		r.Post("/ingest", handleIngest(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
