package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/crestline/fieldsync/backend/internal/auth"
	"github.com/crestline/fieldsync/backend/internal/fieldsync"
	"github.com/crestline/fieldsync/backend/internal/projects"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityContextKey = "fieldsync_identity"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingSyncService   = errors.New("sync service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// BackendTokenManager validates bearer tokens into caller identities.
type BackendTokenManager interface {
	ValidateToken(token string) (auth.Identity, error)
}

// Dependencies wires the HTTP handler to its collaborators.
type Dependencies struct {
	TokenManager BackendTokenManager
	SyncService  *fieldsync.Service
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the sync endpoints.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.SyncService == nil {
		return nil, errMissingSyncService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		syncService: deps.SyncService,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealthz)

	protected := router.Group("/v1")
	protected.Use(handler.authorizeRequest)
	protected.POST("/sync/assessment", handler.handleSyncAssessment)
	protected.POST("/sync/photo", handler.handleSyncPhoto)
	protected.POST("/sync/deficiency", handler.handleSyncDeficiency)
	protected.POST("/sync/assessments/batch", handler.handleBatchSyncAssessments)
	protected.POST("/sync/photos/batch", handler.handleBatchSyncPhotos)

	return router, nil
}

type httpHandler struct {
	tokens      BackendTokenManager
	syncService *fieldsync.Service
	logger      *zap.Logger
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	identity, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func (h *httpHandler) callerIdentity(c *gin.Context) (auth.Identity, bool) {
	value, exists := c.Get(identityContextKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return auth.Identity{}, false
	}
	identity, ok := value.(auth.Identity)
	if !ok || identity.UserID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return auth.Identity{}, false
	}
	return identity, true
}

type assessmentPayload struct {
	OfflineID           string  `json:"offline_id"`
	ProjectID           int64   `json:"project_id"`
	CreatedAtSeconds    int64   `json:"created_at_s"`
	ComponentCode       string  `json:"component_code"`
	ConditionRating     int     `json:"condition_rating"`
	Observations        string  `json:"observations"`
	Recommendations     string  `json:"recommendations"`
	EstimatedRepairCost float64 `json:"estimated_repair_cost"`
	ReplacementValue    float64 `json:"replacement_value"`
	ActionYear          int     `json:"action_year"`
}

func (p assessmentPayload) toConfig() fieldsync.AssessmentEnvelopeConfig {
	return fieldsync.AssessmentEnvelopeConfig{
		OfflineID:           p.OfflineID,
		ProjectID:           p.ProjectID,
		CreatedAtSeconds:    p.CreatedAtSeconds,
		ComponentCode:       p.ComponentCode,
		ConditionRating:     p.ConditionRating,
		Observations:        p.Observations,
		Recommendations:     p.Recommendations,
		EstimatedRepairCost: p.EstimatedRepairCost,
		ReplacementValue:    p.ReplacementValue,
		ActionYear:          p.ActionYear,
	}
}

type photoPayload struct {
	OfflineID        string  `json:"offline_id"`
	ProjectID        int64   `json:"project_id"`
	CreatedAtSeconds int64   `json:"created_at_s"`
	FileName         string  `json:"file_name"`
	DataB64          string  `json:"data_b64"`
	ContentType      string  `json:"content_type"`
	Caption          string  `json:"caption"`
	AssessmentID     string  `json:"assessment_id"`
	AssetID          string  `json:"asset_id"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	GPSAccuracy      float64 `json:"gps_accuracy"`
	OCRText          string  `json:"ocr_text"`
}

func (p photoPayload) toConfig() fieldsync.PhotoEnvelopeConfig {
	return fieldsync.PhotoEnvelopeConfig{
		OfflineID:        p.OfflineID,
		ProjectID:        p.ProjectID,
		CreatedAtSeconds: p.CreatedAtSeconds,
		FileName:         p.FileName,
		DataBase64:       p.DataB64,
		ContentType:      p.ContentType,
		Caption:          p.Caption,
		AssessmentID:     p.AssessmentID,
		AssetID:          p.AssetID,
		Latitude:         p.Latitude,
		Longitude:        p.Longitude,
		GPSAccuracy:      p.GPSAccuracy,
		OCRText:          p.OCRText,
	}
}

type deficiencyPayload struct {
	OfflineID        string  `json:"offline_id"`
	ProjectID        int64   `json:"project_id"`
	CreatedAtSeconds int64   `json:"created_at_s"`
	AssessmentID     string  `json:"assessment_id"`
	ComponentCode    string  `json:"component_code"`
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	Severity         string  `json:"severity"`
	Priority         string  `json:"priority"`
	Status           string  `json:"status"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

func (p deficiencyPayload) toConfig() fieldsync.DeficiencyEnvelopeConfig {
	return fieldsync.DeficiencyEnvelopeConfig{
		OfflineID:        p.OfflineID,
		ProjectID:        p.ProjectID,
		CreatedAtSeconds: p.CreatedAtSeconds,
		AssessmentID:     p.AssessmentID,
		ComponentCode:    p.ComponentCode,
		Title:            p.Title,
		Description:      p.Description,
		Severity:         p.Severity,
		Priority:         p.Priority,
		Status:           p.Status,
		EstimatedCost:    p.EstimatedCost,
	}
}

type batchItemPayload struct {
	OfflineID  string `json:"offline_id"`
	Success    bool   `json:"success"`
	EntityID   string `json:"entity_id,omitempty"`
	URL        string `json:"url,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Error      string `json:"error,omitempty"`
}

type batchResponsePayload struct {
	Results      []batchItemPayload `json:"results"`
	SuccessCount int                `json:"success_count"`
	FailureCount int                `json:"failure_count"`
}

func toBatchResponse(batch fieldsync.BatchResult) batchResponsePayload {
	response := batchResponsePayload{
		Results:      make([]batchItemPayload, 0, len(batch.Results)),
		SuccessCount: batch.SuccessCount,
		FailureCount: batch.FailureCount,
	}
	for _, item := range batch.Results {
		response.Results = append(response.Results, batchItemPayload{
			OfflineID:  item.OfflineID,
			Success:    item.Success,
			EntityID:   item.EntityID,
			URL:        item.URL,
			Resolution: string(item.Resolution),
			Error:      item.Error,
		})
	}
	return response
}

func (h *httpHandler) handleSyncAssessment(c *gin.Context) {
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}

	var payload assessmentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	envelope, err := fieldsync.NewAssessmentEnvelope(payload.toConfig())
	if err != nil {
		h.respondValidationError(c, err)
		return
	}

	result, err := h.syncService.SyncAssessment(c.Request.Context(), identity, envelope)
	if err != nil {
		h.respondSyncError(c, "assessment sync failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assessment_id": result.AssessmentID,
		"conflict":      result.Conflict,
		"resolution":    string(result.Resolution),
		"offline_id":    result.OfflineID.String(),
	})
}

func (h *httpHandler) handleSyncPhoto(c *gin.Context) {
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}

	var payload photoPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	envelope, err := fieldsync.NewPhotoEnvelope(payload.toConfig())
	if err != nil {
		h.respondValidationError(c, err)
		return
	}

	result, err := h.syncService.SyncPhoto(c.Request.Context(), identity, envelope)
	if err != nil {
		h.respondSyncError(c, "photo sync failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"photo_id":   result.PhotoID,
		"url":        result.URL,
		"offline_id": result.OfflineID.String(),
	})
}

func (h *httpHandler) handleSyncDeficiency(c *gin.Context) {
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}

	var payload deficiencyPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	envelope, err := fieldsync.NewDeficiencyEnvelope(payload.toConfig())
	if err != nil {
		h.respondValidationError(c, err)
		return
	}

	result, err := h.syncService.SyncDeficiency(c.Request.Context(), identity, envelope)
	if err != nil {
		h.respondSyncError(c, "deficiency sync failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deficiency_id": result.DeficiencyID,
		"offline_id":    result.OfflineID.String(),
	})
}

func (h *httpHandler) handleBatchSyncAssessments(c *gin.Context) {
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}

	var request struct {
		Assessments []assessmentPayload `json:"assessments"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Assessments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	items := make([]fieldsync.AssessmentEnvelopeConfig, 0, len(request.Assessments))
	for _, payload := range request.Assessments {
		items = append(items, payload.toConfig())
	}

	batch := h.syncService.BatchSyncAssessments(c.Request.Context(), identity, items)
	c.JSON(http.StatusOK, toBatchResponse(batch))
}

func (h *httpHandler) handleBatchSyncPhotos(c *gin.Context) {
	identity, ok := h.callerIdentity(c)
	if !ok {
		return
	}

	var request struct {
		Photos []photoPayload `json:"photos"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Photos) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	items := make([]fieldsync.PhotoEnvelopeConfig, 0, len(request.Photos))
	for _, payload := range request.Photos {
		items = append(items, payload.toConfig())
	}

	batch := h.syncService.BatchSyncPhotos(c.Request.Context(), identity, items)
	c.JSON(http.StatusOK, toBatchResponse(batch))
}

func (h *httpHandler) respondValidationError(c *gin.Context, err error) {
	var validation *fieldsync.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": validation.Fields})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
}

func (h *httpHandler) respondSyncError(c *gin.Context, message string, err error) {
	if errors.Is(err, projects.ErrAccessDenied) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied"})
		return
	}
	h.logger.Error(message, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
}
