package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/unrolled/render"

	"github.com/aaron/tierhub/internal/acquisition"
	"github.com/aaron/tierhub/internal/apperr"
	"github.com/aaron/tierhub/internal/freshness"
	"github.com/aaron/tierhub/internal/metrics"
	"github.com/aaron/tierhub/internal/player"
	"github.com/aaron/tierhub/internal/tiers"
)

// Players is the acquisition surface the handlers need.
type Players interface {
	Query(ctx context.Context, key player.Key) (acquisition.Result, error)
	Refresh(ctx context.Context, key player.Key) (acquisition.Result, error)
	Invalidate(key player.Key) bool
	ClearCache(ctx context.Context, key player.Key) (acquisition.Result, error)
	Status(key player.Key) freshness.Display
	CacheStats() freshness.Stats
}

// Tiers classifies player lists.
type Tiers interface {
	Classify(players []player.Record, tierCount int, format player.ScoringFormat) ([]tiers.Group, error)
	Stats() tiers.Stats
}

const maxTierCount = 50

var (
	rnd     = render.New()
	jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Players          Players
	Tiers            Tiers
	DefaultTierCount int
	Log              logrus.FieldLogger
}

func New(players Players, classifier Tiers, defaultTierCount int, log logrus.FieldLogger) *Handler {
	if defaultTierCount <= 0 {
		defaultTierCount = 6
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{Players: players, Tiers: classifier, DefaultTierCount: defaultTierCount, Log: log}
}

// Routes returns the API routes. Middleware is added by the caller.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", Health)
	r.Get("/stats", h.Stats)
	r.Get("/metrics", metrics.ServeJSON)
	r.Post("/tiers", h.ClassifyPosted)
	r.Route("/players/{position}/{format}", func(r chi.Router) {
		r.Get("/", h.GetPlayers)
		r.Delete("/", h.Invalidate)
		r.Get("/tiers", h.GetTiers)
		r.Get("/status", h.GetStatus)
		r.Post("/refresh", h.Refresh)
		r.Post("/clear", h.Clear)
	})
	return r
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	_ = rnd.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type playersResponse struct {
	Position player.Position      `json:"position"`
	Format   player.ScoringFormat `json:"format"`
	Count    int                  `json:"count"`
	acquisition.Result
}

func newPlayersResponse(key player.Key, res acquisition.Result) playersResponse {
	return playersResponse{Position: key.Position, Format: key.Format, Count: len(res.Players), Result: res}
}

// GetPlayers returns the best available list for a position and format.
// ?name= narrows it to matching players.
func (h *Handler) GetPlayers(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.Players.Query(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if name := r.URL.Query().Get("name"); name != "" {
		res.Players = player.FilterByName(res.Players, name)
	}
	_ = rnd.JSON(w, http.StatusOK, newPlayersResponse(key, res))
}

type tiersResponse struct {
	Position    player.Position      `json:"position"`
	Format      player.ScoringFormat `json:"format"`
	TierCount   int                  `json:"tier_count"`
	Tiers       []tiers.Group        `json:"tiers"`
	DataSource  freshness.Source     `json:"data_source,omitempty"`
	CacheStatus freshness.Status     `json:"cache_status,omitempty"`
	LastUpdated time.Time            `json:"last_updated,omitzero"`
	Warning     *acquisition.Warning `json:"warning,omitempty"`
}

// GetTiers queries a list and partitions it into ?count= tiers.
func (h *Handler) GetTiers(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	count, err := h.tierCount(r.URL.Query().Get("count"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.Players.Query(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	groups, err := h.Tiers.Classify(res.Players, count, key.Format)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = rnd.JSON(w, http.StatusOK, tiersResponse{
		Position:    key.Position,
		Format:      key.Format,
		TierCount:   len(groups),
		Tiers:       groups,
		DataSource:  res.DataSource,
		CacheStatus: res.CacheStatus,
		LastUpdated: res.LastUpdated,
		Warning:     res.Warning,
	})
}

func (h *Handler) tierCount(s string) (int, error) {
	if s == "" {
		return h.DefaultTierCount, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > maxTierCount {
		return 0, apperr.InvalidArgument("count must be an integer in [1, " + strconv.Itoa(maxTierCount) + "]")
	}
	return n, nil
}

// GetStatus returns the freshness label for a key.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = rnd.JSON(w, http.StatusOK, struct {
		Key string `json:"key"`
		freshness.Display
	}{Key: key.String(), Display: h.Players.Status(key)})
}

// Refresh forces a live fetch.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.serveResult(w, r, h.Players.Refresh)
}

// Clear drops the cached entry and refetches it.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	h.serveResult(w, r, h.Players.ClearCache)
}

func (h *Handler) serveResult(w http.ResponseWriter, r *http.Request, fn func(context.Context, player.Key) (acquisition.Result, error)) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := fn(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = rnd.JSON(w, http.StatusOK, newPlayersResponse(key, res))
}

// Invalidate drops the cached entry without refetching.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	removed := h.Players.Invalidate(key)
	_ = rnd.JSON(w, http.StatusOK, map[string]any{"key": key.String(), "removed": removed})
}

type classifyRequest struct {
	Players   []player.Record `json:"players"`
	TierCount *int            `json:"tier_count"`
	Format    string          `json:"format"`
}

// ClassifyPosted partitions a caller-supplied list.
func (h *Handler) ClassifyPosted(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := jsonAPI.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		h.writeError(w, apperr.Wrap(apperr.CodeInvalidArgument, "invalid request body", err))
		return
	}
	var format player.ScoringFormat
	if req.Format != "" {
		f, err := player.ParseScoringFormat(req.Format)
		if err != nil {
			h.writeError(w, err)
			return
		}
		format = f
	}
	count := h.DefaultTierCount
	if req.TierCount != nil {
		count = *req.TierCount
		if count <= 0 || count > maxTierCount {
			h.writeError(w, apperr.InvalidArgument("tier_count must be an integer in [1, "+strconv.Itoa(maxTierCount)+"]"))
			return
		}
	}
	records := make([]player.Record, len(req.Players))
	for i, p := range req.Players {
		rec := p.Normalize()
		if err := rec.Validate(); err != nil {
			h.writeError(w, apperr.Wrap(apperr.CodeInvalidArgument, "player "+strconv.Itoa(i), err))
			return
		}
		records[i] = rec
	}
	groups, err := h.Tiers.Classify(records, count, format)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = rnd.JSON(w, http.StatusOK, map[string]any{"tier_count": len(groups), "tiers": groups})
}

// Stats returns cache, classifier and request counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	_ = rnd.JSON(w, http.StatusOK, map[string]any{
		"cache":   h.Players.CacheStats(),
		"tiers":   h.Tiers.Stats(),
		"metrics": metrics.Stats()["total"],
	})
}

func keyParam(r *http.Request) (player.Key, error) {
	return player.NewKey(chi.URLParam(r, "position"), chi.URLParam(r, "format"))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		h.Log.WithError(err).WithField("code", code).Error("request failed")
	}
	_ = rnd.JSON(w, status, map[string]string{"code": string(code), "error": err.Error()})
}
