package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/kgchat/internal/profile"
)

type InitRequest struct {
	UserName string `json:"user_name"`
}

type InitResponse struct {
	Message string          `json:"message"`
	Profile profile.Profile `json:"profile"`
}

type KnowledgeRequest struct {
	UserName string `json:"user_name"`
	Field    string `json:"field"`
	Value    string `json:"value"`
}

type UpdateKnowledgeRequest struct {
	UserName string `json:"user_name"`
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

func handleInit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InitRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		p, err := deps.Profiles.Init(req.UserName)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, InitResponse{
			Message: fmt.Sprintf("Knowledge graph initialized for %s", p.UserName),
			Profile: p,
		})
	}
}

func handleView(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profiles.Get(chi.URLParam(r, "user_name"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleAdd(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req KnowledgeRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		field, err := profile.ParseField(req.Field)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if err := deps.Profiles.Add(req.UserName, field, req.Value); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "added",
			"field":  field.String(),
			"value":  req.Value,
		})
	}
}

func handleUpdateKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateKnowledgeRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		field, err := profile.ParseField(req.Field)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if err := deps.Profiles.Update(req.UserName, field, req.OldValue, req.NewValue); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "updated",
			"field":     field.String(),
			"old_value": req.OldValue,
			"new_value": req.NewValue,
		})
	}
}

func handleDeleteKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req KnowledgeRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		field, err := profile.ParseField(req.Field)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if err := deps.Profiles.Delete(req.UserName, field, req.Value); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "deleted",
			"field":  field.String(),
			"value":  req.Value,
		})
	}
}

func handleListUsers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := deps.Profiles.List()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, names)
	}
}

func handleRemoveProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Profiles.Remove(chi.URLParam(r, "user_name")); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
