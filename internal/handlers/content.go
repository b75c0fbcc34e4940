package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/ridou/marketsync/internal/models"
)

func (a *API) handleCreatePost(w http.ResponseWriter, req *http.Request) {
	var post models.Post
	if !a.decode(w, req, &post) {
		return
	}

	created, err := a.data.CreatePost(req.Context(), post)
	if err != nil {
		a.writeFailure(w, req, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleDeletePost(w http.ResponseWriter, req *http.Request) {
	if err := a.data.DeletePost(req.Context(), mux.Vars(req)["id"]); err != nil {
		a.writeFailure(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleApplication always answers 200: the outcome is in the body.
func (a *API) handleApplication(w http.ResponseWriter, req *http.Request) {
	var app models.Application
	if !a.decode(w, req, &app) {
		return
	}

	result := a.data.SubmitApplication(req.Context(), app)
	if result.MessageID != "" {
		result.Message = a.text(req, result.MessageID)
	}
	a.writeJSON(w, http.StatusOK, result)
}
