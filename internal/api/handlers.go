package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/relaywatch/correlator/internal/models"
	"github.com/relaywatch/correlator/internal/services"
	"github.com/relaywatch/correlator/internal/topology"
)

// Handlers exposes the analysis service over HTTP.
type Handlers struct {
	logger  *slog.Logger
	service *services.AnalysisService
}

// NewHandlers constructs the HTTP handler set.
func NewHandlers(logger *slog.Logger, service *services.AnalysisService) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{logger: logger, service: service}
}

// Register attaches every route to the router.
func (h *Handlers) Register(router *gin.Engine) {
	router.GET("/health", h.health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/topology/fetch", h.fetchTopology)
		v1.GET("/topology/current", h.currentTopology)
		v1.GET("/topology/guards", h.guardRelays)
		v1.GET("/topology/exits", h.exitRelays)

		v1.POST("/observations", h.addObservation)
		v1.GET("/observations", h.listObservations)
		v1.POST("/observations/synthetic", h.generateSynthetic)

		v1.POST("/analysis/run", h.runAnalysis)
		v1.GET("/analysis/pairs", h.listPairs)
		v1.GET("/analysis/pairs/:id/reasoning", h.pairReasoning)
		v1.GET("/analysis/clusters", h.listClusters)
		v1.GET("/analysis/repetition-stats", h.repetitionStats)

		v1.GET("/profiles", h.listProfiles)
		v1.GET("/analysis/profile", h.activeProfile)
		v1.POST("/analysis/profile", h.setProfile)
	}
}

func (h *Handlers) health(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if snap := h.service.Snapshot(); snap != nil {
		status["snapshot"] = snap.ID()
		status["relays"] = snap.Len()
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handlers) fetchTopology(c *gin.Context) {
	limit := intQuery(c, "limit", 0)
	snap, err := h.service.RefreshTopology(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshotSummary(snap))
}

func (h *Handlers) currentTopology(c *gin.Context) {
	snap := h.service.Snapshot()
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no topology snapshot loaded"})
		return
	}
	c.JSON(http.StatusOK, snapshotSummary(snap))
}

func (h *Handlers) guardRelays(c *gin.Context) {
	snap := h.service.Snapshot()
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no topology snapshot loaded"})
		return
	}
	relays := snap.Guards()
	if limit := intQuery(c, "limit", 50); limit > 0 && len(relays) > limit {
		relays = relays[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"relays": relays, "count": len(relays)})
}

func (h *Handlers) exitRelays(c *gin.Context) {
	snap := h.service.Snapshot()
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no topology snapshot loaded"})
		return
	}
	relays := snap.Exits()
	if limit := intQuery(c, "limit", 50); limit > 0 && len(relays) > limit {
		relays = relays[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"relays": relays, "count": len(relays)})
}

func (h *Handlers) addObservation(c *gin.Context) {
	var obs models.Observation
	if err := c.ShouldBindJSON(&obs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.AddObservation(obs); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, obs)
}

func (h *Handlers) listObservations(c *gin.Context) {
	observations := h.service.Observations(intQuery(c, "limit", 100))
	c.JSON(http.StatusOK, gin.H{"observations": observations, "count": len(observations)})
}

type syntheticRequest struct {
	Sessions         int   `json:"sessions" binding:"required,gt=0"`
	GuardPersistence bool  `json:"guard_persistence"`
	IncludeTimings   bool  `json:"include_timings"`
	Seed             int64 `json:"seed"`
}

func (h *Handlers) generateSynthetic(c *gin.Context) {
	var req syntheticRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	added, err := h.service.GenerateSynthetic(req.Sessions, req.GuardPersistence, req.IncludeTimings, req.Seed)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"observations_added": added})
}

func (h *Handlers) runAnalysis(c *gin.Context) {
	result, err := h.service.Analyze(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) listPairs(c *gin.Context) {
	minConfidence := floatQuery(c, "min_confidence", 0)
	pairs := h.service.Pairs(minConfidence, intQuery(c, "limit", 100))
	c.JSON(http.StatusOK, gin.H{"session_pairs": pairs, "count": len(pairs)})
}

func (h *Handlers) pairReasoning(c *gin.Context) {
	pair, err := h.service.PairByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pair_id":           pair.PairID,
		"final_correlation": pair.FinalCorrelation,
		"reasoning":         pair.Reasoning,
		"score_breakdown":   pair.Breakdown,
	})
}

func (h *Handlers) listClusters(c *gin.Context) {
	clusters := h.service.Clusters(floatQuery(c, "min_confidence", 0))
	c.JSON(http.StatusOK, gin.H{"clusters": clusters, "count": len(clusters)})
}

func (h *Handlers) repetitionStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.RepetitionStats(intQuery(c, "top", 10)))
}

func (h *Handlers) listProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": models.PredefinedProfiles()})
}

func (h *Handlers) activeProfile(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Profile())
}

type profileRequest struct {
	Type          string  `json:"profile_type" binding:"required"`
	ID            string  `json:"profile_id"`
	Name          string  `json:"profile_name"`
	TimeWeight    float64 `json:"weight_time_correlation"`
	VolumeWeight  float64 `json:"weight_volume_similarity"`
	PatternWeight float64 `json:"weight_pattern_similarity"`
	CaseID        string  `json:"case_id"`
	CreatedBy     string  `json:"created_by"`
	Description   string  `json:"description"`
}

func (h *Handlers) setProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var profile models.WeightProfile
	var err error
	if models.ProfileType(req.Type) == models.ProfileCustom {
		profile, err = models.NewCustomProfile(
			req.ID, req.Name,
			req.TimeWeight, req.VolumeWeight, req.PatternWeight,
			req.CaseID, req.CreatedBy, req.Description)
	} else {
		profile, err = models.Profile(models.ProfileType(req.Type))
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	if err := h.service.SetProfile(profile); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// fail maps structured engine errors onto HTTP statuses.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch models.KindOf(err) {
	case models.ErrInputValidation, models.ErrUnknownRelay:
		status = http.StatusBadRequest
	case models.ErrInternalInvariant:
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", slog.Any("error", err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func snapshotSummary(snap *topology.Snapshot) gin.H {
	return gin.H{
		"snapshot_id":  snap.ID(),
		"total_relays": snap.Len(),
		"guard_relays": snap.GuardCount(),
		"exit_relays":  snap.ExitCount(),
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func floatQuery(c *gin.Context, name string, fallback float64) float64 {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}
