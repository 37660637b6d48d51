package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/kgchat/internal/ingest"
)

type IngestRequest struct {
	UserName string `json:"user_name"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IngestRequest
		if !decodeBody(w, r, maxIngestBodySize, &req) {
			return
		}
		doc, err := ingest.Submit(deps.Store, req.UserName, req.Type, req.Title, req.Content)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     doc.ID,
			"status": doc.Status,
		})
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Store.GetDocument(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}
