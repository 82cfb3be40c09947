package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mr1hm/go-rockfall-alerts/internal/alerting"
	"github.com/mr1hm/go-rockfall-alerts/internal/apperr"
	"github.com/mr1hm/go-rockfall-alerts/internal/fusion"
	internalgrpc "github.com/mr1hm/go-rockfall-alerts/internal/grpc"
	"github.com/mr1hm/go-rockfall-alerts/internal/ingestion"
	"github.com/mr1hm/go-rockfall-alerts/internal/models"
	"github.com/mr1hm/go-rockfall-alerts/internal/repository"
)

const (
	defaultStatsDays       = 30
	defaultReportDays      = 7
	defaultAssessmentLimit = 50
	maxAssessmentLimit     = 500
)

type EstimateSubmitter interface {
	Submit(est models.RiskEstimate) error
}

type Handler struct {
	alerts      *alerting.Manager
	ingest      EstimateSubmitter
	assessments repository.AssessmentRepository
	broadcaster *internalgrpc.Broadcaster
	weights     fusion.Weights
	upgrader    websocket.Upgrader
}

type Option func(*Handler)

func WithIngestion(s EstimateSubmitter) Option {
	return func(h *Handler) {
		h.ingest = s
	}
}

func WithAssessments(repo repository.AssessmentRepository) Option {
	return func(h *Handler) {
		h.assessments = repo
	}
}

func WithBroadcaster(b *internalgrpc.Broadcaster) Option {
	return func(h *Handler) {
		h.broadcaster = b
	}
}

func WithFusionWeights(w fusion.Weights) Option {
	return func(h *Handler) {
		h.weights = w
	}
}

func NewHandler(alerts *alerting.Manager, opts ...Option) *Handler {
	h := &Handler{
		alerts:  alerts,
		weights: fusion.DefaultWeights(),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	alerts := r.Group("/api/alerts")
	alerts.GET("", h.listActive)
	alerts.GET("/geojson", h.activeGeoJSON)
	alerts.GET("/history", h.history)
	alerts.GET("/stats", h.stats)
	alerts.GET("/report", h.report)
	alerts.GET("/:id", h.getAlert)
	alerts.POST("", h.createAlert)
	alerts.POST("/sweep", h.sweep)
	alerts.POST("/:id/acknowledge", h.acknowledge)
	alerts.POST("/:id/escalate", h.escalate)
	alerts.POST("/:id/resolve", h.resolve)

	risk := r.Group("/api/risk")
	risk.POST("/fuse", h.fuse)
	risk.POST("/estimates", h.submitEstimate)
	risk.GET("/assessments", h.listAssessments)

	r.GET("/api/stream", h.stream)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listActive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": h.alerts.Active()})
}

func (h *Handler) activeGeoJSON(c *gin.Context) {
	fc := toGeoJSON(h.alerts.Active())
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

func (h *Handler) history(c *gin.Context) {
	var f alerting.HistoryFilter

	for _, raw := range splitQuery(c.QueryArray("severity")) {
		sev, err := models.ParseSeverity(raw)
		if err != nil {
			respondError(c, apperr.ErrInvalidInput.WithMessage("invalid severity: %q", raw))
			return
		}
		f.Severities = append(f.Severities, sev)
	}
	if s := c.Query("status"); s != "" {
		st, err := models.ParseStatus(s)
		if err != nil {
			respondError(c, apperr.ErrInvalidInput.WithMessage("invalid status: %q", s))
			return
		}
		f.Status = st
	}
	if s := c.Query("from"); s != "" {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			respondError(c, apperr.ErrInvalidInput.WithMessage("invalid from date: %q", s))
			return
		}
		f.From = &t
	}
	if s := c.Query("to"); s != "" {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			respondError(c, apperr.ErrInvalidInput.WithMessage("invalid to date: %q", s))
			return
		}
		// inclusive of the whole day
		end := t.Add(24*time.Hour - time.Nanosecond)
		f.To = &end
	}

	c.JSON(http.StatusOK, gin.H{"alerts": h.alerts.History(f)})
}

func (h *Handler) stats(c *gin.Context) {
	days, ok := queryDays(c, defaultStatsDays)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.alerts.Statistics(days))
}

func (h *Handler) report(c *gin.Context) {
	days, ok := queryDays(c, defaultReportDays)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.alerts.Report(days))
}

func (h *Handler) getAlert(c *gin.Context) {
	alert, err := h.alerts.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

type createAlertRequest struct {
	Title       string              `json:"title"`
	Severity    string              `json:"severity"`
	Location    string              `json:"location"`
	Coordinates *models.Coordinates `json:"coordinates"`
	Description string              `json:"description"`
	Action      string              `json:"action"`
	Source      string              `json:"source"`
}

func (h *Handler) createAlert(c *gin.Context) {
	var req createAlertRequest
	if !bindJSON(c, &req, true) {
		return
	}
	sev, err := models.ParseSeverity(req.Severity)
	if err != nil {
		respondError(c, apperr.ErrInvalidInput.WithMessage("invalid severity: %q", req.Severity))
		return
	}

	alert, err := h.alerts.Create(c.Request.Context(), alerting.NewAlert{
		Title:       req.Title,
		Severity:    sev,
		Location:    req.Location,
		Coordinates: req.Coordinates,
		Description: req.Description,
		Action:      req.Action,
		Source:      req.Source,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, alert)
}

type actorRequest struct {
	Actor string `json:"actor"`
	Notes string `json:"notes"`
}

func (h *Handler) acknowledge(c *gin.Context) {
	var req actorRequest
	if !bindJSON(c, &req, false) {
		return
	}
	alert, err := h.alerts.Acknowledge(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) escalate(c *gin.Context) {
	var req actorRequest
	if !bindJSON(c, &req, false) {
		return
	}
	alert, err := h.alerts.Escalate(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) resolve(c *gin.Context) {
	var req actorRequest
	if !bindJSON(c, &req, false) {
		return
	}
	alert, err := h.alerts.Resolve(c.Request.Context(), c.Param("id"), req.Actor, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) sweep(c *gin.Context) {
	escalated, err := h.alerts.SweepEscalations(c.Request.Context())
	if err != nil {
		respondError(c, apperr.ErrInternal.WithCause(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"escalated": escalated})
}

type fuseRequest struct {
	Sensor  *models.RiskEstimate `json:"sensor"`
	Drone   *models.RiskEstimate `json:"drone"`
	Weights *fusion.Weights      `json:"weights"`
}

// fuse scores one or two estimates without touching ingestion state.
func (h *Handler) fuse(c *gin.Context) {
	var req fuseRequest
	if !bindJSON(c, &req, true) {
		return
	}
	if req.Sensor == nil && req.Drone == nil {
		respondError(c, apperr.ErrInvalidInput.WithMessage("at least one of sensor or drone is required"))
		return
	}

	weights := h.weights
	if req.Weights != nil {
		if req.Weights.Sensor < 0 || req.Weights.Drone < 0 {
			respondError(c, apperr.ErrInvalidInput.WithMessage("weights must not be negative"))
			return
		}
		weights = *req.Weights
	}

	now := time.Now()
	for _, pair := range []struct {
		est *models.RiskEstimate
		src models.EstimateSource
	}{{req.Sensor, models.SourceSensor}, {req.Drone, models.SourceDrone}} {
		if pair.est == nil {
			continue
		}
		pair.est.Source = pair.src
		if pair.est.Location == "" {
			pair.est.Location = "unspecified"
		}
		if err := ingestion.ValidateEstimate(pair.est); err != nil {
			respondError(c, err)
			return
		}
		if pair.est.ObservedAt.IsZero() {
			pair.est.ObservedAt = now
		}
	}

	var a models.RiskAssessment
	switch {
	case req.Sensor != nil && req.Drone != nil:
		a = fusion.Fuse(*req.Sensor, *req.Drone, weights)
	case req.Sensor != nil:
		a = fusion.Single(*req.Sensor)
	default:
		a = fusion.Single(*req.Drone)
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) submitEstimate(c *gin.Context) {
	if h.ingest == nil {
		respondError(c, apperr.ErrIngestionQueue.WithMessage("ingestion is not enabled"))
		return
	}
	var est models.RiskEstimate
	if !bindJSON(c, &est, true) {
		return
	}
	if err := h.ingest.Submit(est); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *Handler) listAssessments(c *gin.Context) {
	filter := repository.AssessmentFilter{
		Location: c.Query("location"),
		Limit:    defaultAssessmentLimit,
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= maxAssessmentLimit {
			filter.Limit = lim
		}
	}

	if h.assessments == nil {
		c.JSON(http.StatusOK, gin.H{"assessments": []models.RiskAssessment{}})
		return
	}
	list, err := h.assessments.ListAssessments(c.Request.Context(), filter)
	if err != nil {
		respondError(c, apperr.ErrStoreFailure.WithCause(err))
		return
	}
	if list == nil {
		list = []models.RiskAssessment{}
	}
	c.JSON(http.StatusOK, gin.H{"assessments": list})
}

// bindJSON decodes the request body into dst. An empty body is accepted unless required.
func bindJSON(c *gin.Context, dst any, required bool) bool {
	if !required && (c.Request.Body == nil || c.Request.Body == http.NoBody) {
		return true
	}
	err := c.ShouldBindJSON(dst)
	if err == nil || (!required && errors.Is(err, io.EOF)) {
		return true
	}
	respondError(c, apperr.ErrInvalidInput.WithMessage("invalid request body: %v", err))
	return false
}

func queryDays(c *gin.Context, fallback int) (int, bool) {
	s := c.Query("days")
	if s == "" {
		return fallback, true
	}
	days, err := strconv.Atoi(s)
	if err != nil || days < 1 {
		respondError(c, apperr.ErrInvalidInput.WithMessage("days must be a positive integer"))
		return 0, false
	}
	return days, true
}

func splitQuery(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatusOf(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", c.GetString(requestIDKey),
			"error", err,
		)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"code":  apperr.CodeOf(err),
		"error": err.Error(),
	})
}
