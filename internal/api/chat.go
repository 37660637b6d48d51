package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/kgchat/internal/chat"
)

type ChatRequest struct {
	SessionID string `json:"session_id"`
	UserName  string `json:"user_name"`
	UserInput string `json:"user_input"`
}

type MessagePair struct {
	UserName     string `json:"user_name"`
	AssistantMsg string `json:"assistant_msg"`
	UserMsg      string `json:"user_msg"`
}

type QueryRequest struct {
	UserName  string `json:"user_name"`
	UserQuery string `json:"user_query"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		resp, err := deps.Chat.Send(r.Context(), req.SessionID, req.UserName, req.UserInput)
		if err != nil {
			if errors.Is(err, r.Context().Err()) {
				slog.Debug("chat request abandoned", "user", req.UserName)
				return
			}
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleUpdateFromPair(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MessagePair
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		meta, err := deps.Chat.UpdateFromPair(r.Context(), req.UserName, req.AssistantMsg, req.UserMsg)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]chat.Metadata{"updated_metadata": meta})
	}
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		kgc, err := deps.Chat.Query(r.Context(), req.UserName, req.UserQuery)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]chat.Context{"kg_context": kgc})
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := deps.Chat.History(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleClearHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Chat.ClearHistory(chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}
