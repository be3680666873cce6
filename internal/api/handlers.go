// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/go-chi/chi/v5"

	"github.com/riven-go/riven/internal/metrics"
	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/store"
)

// handlers holds the collaborators every §6 endpoint reads from or writes
// through. It carries no state of its own.
type handlers struct {
	deps Deps
}

func parseItemID(r *http.Request, param string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, param), 10, 64)
}

// itemResponse is the wire shape returned for a MediaItem, trimmed to the
// fields a client actually needs rather than the full Store row.
type itemResponse struct {
	ID       int64      `json:"id"`
	Kind     model.Kind `json:"kind"`
	ParentID *int64     `json:"parent_id,omitempty"`
	Title    string     `json:"title"`
	Year     *int       `json:"year,omitempty"`
	State    model.State `json:"state"`
	ImdbID   *string    `json:"imdb_id,omitempty"`
	TvdbID   *string    `json:"tvdb_id,omitempty"`
	TmdbID   *string    `json:"tmdb_id,omitempty"`
	TraktID  *string    `json:"trakt_id,omitempty"`
	FileName *string    `json:"file_name,omitempty"`
	SymlinkPath *string `json:"symlink_path,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	LastStateAt time.Time `json:"last_state_at"`
}

func toItemResponse(m *model.MediaItem) itemResponse {
	return itemResponse{
		ID: m.ID, Kind: m.Kind, ParentID: m.ParentID, Title: m.Title, Year: m.Year,
		State: m.State, ImdbID: m.ImdbID, TvdbID: m.TvdbID, TmdbID: m.TmdbID, TraktID: m.TraktID,
		FileName: m.FileName, SymlinkPath: m.SymlinkPath,
		RequestedAt: m.RequestedAt, LastStateAt: m.LastStateAt,
	}
}

func statusForErr(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// GET /items?kind=movie&state=requested — listItems implements the §6
// catalog endpoint via Store.ItemsNeeding's predicate form, restricted here
// to an allowlisted set of filter columns so request input never reaches
// raw SQL.
func (h *handlers) listItems(w http.ResponseWriter, r *http.Request) {
	var predicate []string
	var args []any

	if kind := r.URL.Query().Get("kind"); kind != "" {
		predicate = append(predicate, "kind = ?")
		args = append(args, kind)
	}
	if state := r.URL.Query().Get("state"); state != "" {
		predicate = append(predicate, "state = ?")
		args = append(args, state)
	}
	if len(predicate) == 0 {
		predicate = append(predicate, "1 = 1")
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	items, err := h.deps.Store.ItemsNeeding(r.Context(), strings.Join(predicate, " AND "), args, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]itemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toItemResponse(it))
	}
	writeJSON(w, http.StatusOK, out)
}

type itemTreeResponse struct {
	Item     itemResponse   `json:"item"`
	Children []itemResponse `json:"children,omitempty"`
}

// GET /items/{id}?depth=3
func (h *handlers) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseItemID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	depth := 2
	if raw := r.URL.Query().Get("depth"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			depth = n
		}
	}

	var resp itemTreeResponse
	err = h.deps.Store.WithTx(r.Context(), func(tx *store.Tx) error {
		item, children, err := tx.LoadItem(r.Context(), id, depth)
		if err != nil {
			return err
		}
		resp.Item = toItemResponse(item)
		for _, c := range children {
			resp.Children = append(resp.Children, toItemResponse(c))
		}
		return nil
	})
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type createItemRequest struct {
	Kind    model.Kind `json:"kind"`
	ImdbID  string     `json:"imdb_id"`
	TvdbID  string     `json:"tvdb_id"`
	TmdbID  string     `json:"tmdb_id"`
	TraktID string     `json:"trakt_id"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// POST /items — adds a top-level item by external id. R1: an id that
// already exists returns the existing item instead of creating a
// duplicate, and pushes no additional event.
func (h *handlers) createItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind != model.KindMovie && req.Kind != model.KindShow {
		writeError(w, http.StatusBadRequest, "kind must be movie or show")
		return
	}
	if req.ImdbID == "" && req.TvdbID == "" && req.TmdbID == "" && req.TraktID == "" {
		writeError(w, http.StatusBadRequest, "at least one external id is required")
		return
	}

	existing, err := h.deps.Store.FindItemByExternalID(r.Context(), req.Kind, req.ImdbID, req.TvdbID, req.TmdbID, req.TraktID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusOK, toItemResponse(existing))
		return
	}

	now := time.Now()
	var id int64
	err = h.deps.Store.WithTx(r.Context(), func(tx *store.Tx) error {
		var txErr error
		id, txErr = tx.CreateItem(r.Context(), &model.MediaItem{
			Kind:        req.Kind,
			ImdbID:      strPtr(req.ImdbID),
			TvdbID:      strPtr(req.TvdbID),
			TmdbID:      strPtr(req.TmdbID),
			TraktID:     strPtr(req.TraktID),
			State:       model.StateRequested,
			RequestedAt: now,
			RequestedBy: "api",
			LastStateAt: now,
		})
		return txErr
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if _, err := h.deps.Queue.Push(id, model.ServiceIndexer, now, 0, string(model.EmittedByAPI)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// DELETE /items/{id} — removes an item's autonomous scheduling and marks it
// paused; the spec keeps physical deletion of library files out of scope
// (§1), so this only stops the pipeline from touching the item further.
func (h *handlers) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseItemID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	h.deps.Queue.Cancel(id)

	now := time.Now()
	err = h.deps.Store.WithTx(r.Context(), func(tx *store.Tx) error {
		item, _, err := tx.LoadItem(r.Context(), id, 0)
		if err != nil {
			return err
		}
		return tx.RecordTransition(r.Context(), id, item.State, model.StatePaused, now, nil)
	})
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /items/{id}/retry — clears failed_attempts, returns the item to
// Requested and enqueues the Indexer immediately, the manual override for §7's
// "only a manual API retry can revive it" on ErrPermanent.
func (h *handlers) retryItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseItemID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	now := time.Now()
	var item *model.MediaItem
	err = h.deps.Store.WithTx(r.Context(), func(tx *store.Tx) error {
		var txErr error
		item, _, txErr = tx.LoadItem(r.Context(), id, 0)
		if txErr != nil {
			return txErr
		}
		return tx.RecordTransition(r.Context(), id, item.State, model.StateRequested, now, map[string]any{
			"failed_attempts": 0,
		})
	})
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}

	if _, err := h.deps.Queue.Push(id, model.ServiceIndexer, now, 0, string(model.EmittedByAPI)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// POST /items/{id}/reset — the §12 supplemented recursive reset: a Show or
// Season's entire subtree returns to Requested.
func (h *handlers) resetItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseItemID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	h.deps.Queue.Cancel(id)

	now := time.Now()
	err = h.deps.Store.WithTx(r.Context(), func(tx *store.Tx) error {
		return tx.ResetItem(r.Context(), id, now)
	})
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}

	if _, err := h.deps.Queue.Push(id, model.ServiceIndexer, now, 0, string(model.EmittedByAPI)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// POST /items/{id}/reindex — the §12 supplemented reindex-only operation.
func (h *handlers) reindexItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseItemID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	now := time.Now()
	err = h.deps.Store.WithTx(r.Context(), func(tx *store.Tx) error {
		return tx.Reindex(r.Context(), id, now)
	})
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}

	if _, err := h.deps.Queue.Push(id, model.ServiceIndexer, now, 0, string(model.EmittedByAPI)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type manualScrapeRequest struct {
	ItemID int64 `json:"item_id"`
}

type streamResponse struct {
	ID          int64    `json:"id"`
	Infohash    string   `json:"infohash"`
	ParsedTitle string   `json:"parsed_title"`
	Resolution  string   `json:"resolution"`
	Rank        int      `json:"rank"`
	Cached      bool     `json:"cached"`
	SourceBackend []string `json:"source_backend,omitempty"`
}

func toStreamResponse(s model.Stream) streamResponse {
	return streamResponse{
		ID: s.ID, Infohash: s.Infohash, ParsedTitle: s.ParsedTitle, Resolution: s.Resolution,
		Rank: s.Rank, Cached: s.Cached, SourceBackend: s.SourceBackend,
	}
}

// POST /scrape — opens a manual session and runs Scrape immediately, the
// Manual Session Manager's synchronous entry point (§4.10). The caller uses
// the returned session_id for the subsequent select-stream/select-files/
// commit calls that finish the override.
func (h *handlers) manualScrape(w http.ResponseWriter, r *http.Request) {
	var req manualScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.deps.Sessions.Open(r.Context(), req.ItemID)
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}

	live, err := h.deps.Sessions.Scrape(r.Context(), sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]streamResponse, 0, len(live))
	for _, s := range live {
		out = append(out, toStreamResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID, "streams": out})
}

// GET /streams/{item_id} — lists an item's live stream set.
func (h *handlers) listStreams(w http.ResponseWriter, r *http.Request) {
	itemID, err := parseItemID(r, "item_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var live []model.Stream
	err = h.deps.Store.WithTx(r.Context(), func(tx *store.Tx) error {
		var txErr error
		live, txErr = tx.LiveStreams(r.Context(), itemID)
		return txErr
	})
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}

	out := make([]streamResponse, 0, len(live))
	for _, s := range live {
		out = append(out, toStreamResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /streams/{item_id}/blacklist/{infohash} — manually blacklists a
// stream (I6), e.g. after the user discovers it is mislabeled.
func (h *handlers) blacklistStream(w http.ResponseWriter, r *http.Request) {
	itemID, err := parseItemID(r, "item_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	infohash := chi.URLParam(r, "infohash")

	now := time.Now()
	err = h.deps.Store.WithTx(r.Context(), func(tx *store.Tx) error {
		live, txErr := tx.LiveStreams(r.Context(), itemID)
		if txErr != nil {
			return txErr
		}
		var streamID int64 = -1
		for _, s := range live {
			if s.Infohash == infohash {
				streamID = s.ID
				break
			}
		}
		if streamID == -1 {
			return model.ErrNotFound
		}
		return tx.BlacklistStream(r.Context(), itemID, streamID, model.ReasonDownloadDenied, now)
	})
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	metrics.RecordBlacklist(string(model.ReasonDownloadDenied))
	w.WriteHeader(http.StatusNoContent)
}

// POST /streams/{item_id}/reset — returns the item to Scraped and clears
// its active stream, without touching the blacklist (P2 monotonicity: a
// reset never un-blacklists anything).
func (h *handlers) resetStreams(w http.ResponseWriter, r *http.Request) {
	itemID, err := parseItemID(r, "item_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	now := time.Now()
	err = h.deps.Store.WithTx(r.Context(), func(tx *store.Tx) error {
		item, _, txErr := tx.LoadItem(r.Context(), itemID, 0)
		if txErr != nil {
			return txErr
		}
		if txErr := tx.SetActiveStream(r.Context(), itemID, nil); txErr != nil {
			return txErr
		}
		return tx.RecordTransition(r.Context(), itemID, item.State, model.StateScraped, now, map[string]any{
			"clear_active_stream": true,
		})
	})
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}

	if _, err := h.deps.Queue.Push(itemID, model.ServiceScraper, now, 0, string(model.EmittedByAPI)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// statsResponse is the §12 supplemented per-backend stats surface.
type statsResponse struct {
	QueueDepth    int                         `json:"queue_depth"`
	Backends      []backendStatsEntry         `json:"backends"`
}

type backendStatsEntry struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Enabled   bool   `json:"enabled"`
	Healthy   bool   `json:"healthy"`
	LastError string `json:"last_error,omitempty"`
}

// GET /stats
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	snap := h.deps.Services.Snapshot()
	out := statsResponse{QueueDepth: h.deps.Queue.Len()}
	for _, s := range snap {
		out.Backends = append(out.Backends, backendStatsEntry{
			Name: s.Name, Kind: string(s.Kind), Enabled: s.Enabled, Healthy: s.Healthy, LastError: s.LastError,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /stream — Server-Sent Events feed of committed transitions, backed
// by the outbound Event Bus's Subscribe (§11).
func (h *handlers) streamSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, err := h.deps.Bus.Subscribe(ctx)
	if err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type webhookShowUpdateRequest struct {
	TvdbID string `json:"tvdb_id"`
	ImdbID string `json:"imdb_id"`
}

// POST /webhook/show-update — an external scheduler (media server, Trakt
// webhook) nudges a known Show to recheck immediately rather than waiting
// for the Scheduler's ongoing-recheck cadence (§4.9).
func (h *handlers) webhookShowUpdate(w http.ResponseWriter, r *http.Request) {
	var req webhookShowUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TvdbID == "" && req.ImdbID == "" {
		writeError(w, http.StatusBadRequest, "tvdb_id or imdb_id is required")
		return
	}

	item, err := h.deps.Store.FindItemByExternalID(r.Context(), model.KindShow, req.ImdbID, req.TvdbID, "", "")
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}

	if _, err := h.deps.Queue.Push(item.ID, model.ServiceIndexer, time.Now(), 0, string(model.EmittedByWebhook)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// POST /auth/exchange — trades the static API key for a short-lived
// session JWT (§6's single-API-key model).
func (h *handlers) exchangeToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.deps.AuthMgr.Exchange()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mint session token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
