package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/ridou/marketsync/internal/i18n"
	"github.com/ridou/marketsync/internal/models"
)

func (a *API) handleDashboard(w http.ResponseWriter, req *http.Request) {
	state := a.poller.Dashboard()
	state.Online = a.poller.Online()
	a.writeJSON(w, http.StatusOK, state)
}

type statusResponse struct {
	Online    bool      `json:"online"`
	Scheduler string    `json:"scheduler"`
	Unread    int       `json:"unread"`
	UpdatedAt time.Time `json:"updated_at"`
	Message   string    `json:"message,omitempty"`
}

func (a *API) handleStatus(w http.ResponseWriter, req *http.Request) {
	resp := statusResponse{
		Online:    a.poller.Online(),
		Scheduler: a.poller.State().String(),
		Unread:    a.poller.Unread(),
		UpdatedAt: a.poller.Dashboard().UpdatedAt,
	}
	if !resp.Online {
		resp.Message = a.text(req, i18n.MsgOffline)
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleNews(w http.ResponseWriter, req *http.Request) {
	a.writeJSON(w, http.StatusOK, a.data.FetchNews(req.Context()))
}

type seenRequest struct {
	ID string `json:"id"`
}

// handleNewsSeen acknowledges news. The body is optional; without an id the
// current head is marked.
func (a *API) handleNewsSeen(w http.ResponseWriter, req *http.Request) {
	var body seenRequest
	if req.ContentLength != 0 {
		if !a.decode(w, req, &body) {
			return
		}
	}

	a.poller.MarkSeen(strings.TrimSpace(body.ID))
	a.writeJSON(w, http.StatusOK, map[string]int{"unread": a.poller.Unread()})
}

func (a *API) handleIndices(w http.ResponseWriter, req *http.Request) {
	a.writeJSON(w, http.StatusOK, a.data.FetchMarketIndices(req.Context()))
}

type stockResponse struct {
	Available bool                  `json:"available"`
	Stock     *models.StockSnapshot `json:"stock,omitempty"`
	Message   string                `json:"message,omitempty"`
}

func (a *API) handleStock(w http.ResponseWriter, req *http.Request) {
	symbol := strings.TrimSpace(mux.Vars(req)["symbol"])

	snapshot, ok := a.data.FetchStockData(req.Context(), symbol)
	if !ok {
		a.writeJSON(w, http.StatusOK, stockResponse{
			Available: false,
			Message:   a.text(req, i18n.MsgStockUnavailable),
		})
		return
	}
	a.writeJSON(w, http.StatusOK, stockResponse{Available: true, Stock: snapshot})
}

func (a *API) handleSectors(w http.ResponseWriter, req *http.Request) {
	a.writeJSON(w, http.StatusOK, a.data.FetchSectors(req.Context()))
}

func (a *API) handlePosts(w http.ResponseWriter, req *http.Request) {
	a.writeJSON(w, http.StatusOK, a.data.FetchPosts(req.Context()))
}
