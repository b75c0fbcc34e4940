package handlers

import (
	"net/http"

	"github.com/ridou/marketsync/internal/i18n"
	"github.com/ridou/marketsync/internal/models"
)

type chatRequest struct {
	Message string            `json:"message"`
	History []models.ChatTurn `json:"history"`
}

func (a *API) handleChat(w http.ResponseWriter, req *http.Request) {
	var body chatRequest
	if !a.decode(w, req, &body) {
		return
	}

	if err := a.security.ValidateInput(body.Message); err != nil {
		a.logger.WithError(err).Debug("Rejected chat message")
		a.writeError(w, req, http.StatusBadRequest, i18n.MsgInvalidRequest)
		return
	}
	for _, turn := range body.History {
		if turn.Role != models.RoleUser && turn.Role != models.RoleAssistant {
			a.writeError(w, req, http.StatusBadRequest, i18n.MsgInvalidRequest)
			return
		}
	}

	reply, err := a.chat.Chat(req.Context(), body.Message, body.History)
	if err != nil {
		a.writeFailure(w, req, err)
		return
	}

	if req.URL.Query().Get("format") == "html" {
		reply.RenderHTML()
	}
	a.writeJSON(w, http.StatusOK, reply)
}
