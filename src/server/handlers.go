package server

import (
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"runtime"
	"time"

	"coverserv/src/analytics"
	"coverserv/src/campaign"
	"coverserv/src/compositor"
	cfg "coverserv/src/configuration"
	"coverserv/src/templates"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type (
	AppHandler struct {
		svc              *Services
		maxWait          time.Duration
		shareTTL         time.Duration
		maxMemoryPercent float64
		log              *zap.Logger
	}

	TemplateSummary struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Complete    bool   `json:"complete"`
	}

	SaveTemplateConfigBody struct {
		TemplateID string           `json:"templateId"`
		Config     templates.Config `json:"config"`
	}

	TrackEventBody struct {
		Event string `json:"event"`
	}
)

const (
	noStore    = "no-store, no-cache, must-revalidate"
	previewMax = 480
)

func NewHandler(config *cfg.Properties, svc *Services, log *zap.Logger) *AppHandler {
	return &AppHandler{
		svc:              svc,
		maxWait:          config.DOI.MaxWait,
		shareTTL:         config.S3.ShareTTL,
		maxMemoryPercent: config.Server.MaxMemoryPercent,
		log:              log,
	}
}

// GetHealth reports heap usage and turns 503 above the configured threshold.
func (a *AppHandler) GetHealth(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	percent := 0.0
	if mem.HeapSys > 0 {
		percent = float64(mem.HeapAlloc) / float64(mem.HeapSys) * 100
	}
	healthy := percent < a.maxMemoryPercent

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "overloaded"
		code = http.StatusServiceUnavailable
		c.Header("Retry-After", "60")
	}
	c.Header("Cache-Control", noStore)
	c.JSON(code, gin.H{
		"status": status,
		"memory": gin.H{
			"heapUsed":  mem.HeapAlloc >> 20,
			"heapTotal": mem.HeapSys >> 20,
			"percent":   math.Round(percent*100) / 100,
			"threshold": a.maxMemoryPercent,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (a *AppHandler) GetConfig(c *gin.Context) {
	store := a.svc.Campaign
	c.Header("Cache-Control", noStore)
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": store.Load().Public(store.Now())})
}

// PostConfig replaces the white-label section; the security section is kept.
func (a *AppHandler) PostConfig(c *gin.Context) {
	var body campaign.WhiteLabel
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, a.log, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	updated, err := a.svc.Campaign.UpdateWhiteLabel(body)
	if err != nil {
		fail(c, a.log, err)
		return
	}
	a.log.Info("campaign config updated")
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": updated.Public(a.svc.Campaign.Now())})
}

// GetTemplateConfig returns the template named by ?id, or a random complete one.
func (a *AppHandler) GetTemplateConfig(c *gin.Context) {
	var (
		tmpl *templates.Template
		err  error
	)
	if id := c.Query("id"); id != "" {
		tmpl, err = a.svc.Templates.Get(id)
	} else {
		tmpl, err = a.svc.Templates.Random()
	}
	if err != nil {
		fail(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": tmpl})
}

func (a *AppHandler) ListTemplates(c *gin.Context) {
	ids, err := a.svc.Templates.List()
	if err != nil {
		fail(c, a.log, err)
		return
	}
	result := make([]TemplateSummary, 0, len(ids))
	for _, id := range ids {
		tmpl, err := a.svc.Templates.Get(id)
		if err != nil {
			a.log.Debug("skipping template", zap.String("id", id), zap.Error(err))
			continue
		}
		result = append(result, TemplateSummary{
			ID:          tmpl.ID,
			Name:        tmpl.Config.Name,
			Description: tmpl.Config.Description,
			Complete:    tmpl.Complete(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": result})
}

func (a *AppHandler) GetTemplateAsset(c *gin.Context) {
	path, contentType, err := a.svc.Templates.Asset(c.Query("id"), templates.AssetType(c.Query("type")))
	if err != nil {
		fail(c, a.log, err)
		return
	}
	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "public, max-age=3600")
	c.File(path)
}

// UploadTemplate stores background and/or foreground art for a template.
func (a *AppHandler) UploadTemplate(c *gin.Context) {
	id := c.PostForm("templateId")
	background, err := optionalFile(c, "background")
	if err != nil {
		fail(c, a.log, err)
		return
	}
	foreground, err := optionalFile(c, "foreground")
	if err != nil {
		fail(c, a.log, err)
		return
	}
	if background == nil && foreground == nil {
		fail(c, a.log, fmt.Errorf("%w: no template files in request", errBadRequest))
		return
	}
	for _, layer := range [][]byte{background, foreground} {
		if layer == nil {
			continue
		}
		if _, _, err := compositor.DecodeBytes(layer); err != nil {
			fail(c, a.log, err)
			return
		}
	}
	if err := a.svc.Templates.Upload(id, background, foreground); err != nil {
		fail(c, a.log, err)
		return
	}
	tmpl, err := a.svc.Templates.Get(id)
	if err != nil {
		fail(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": tmpl})
}

func (a *AppHandler) SaveTemplateConfig(c *gin.Context) {
	var body SaveTemplateConfigBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, a.log, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := a.svc.Templates.SaveConfig(body.TemplateID, body.Config); err != nil {
		fail(c, a.log, err)
		return
	}
	tmpl, err := a.svc.Templates.Get(body.TemplateID)
	if err != nil {
		fail(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": tmpl})
}

func (a *AppHandler) TrackEvent(c *gin.Context) {
	var body TrackEventBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, a.log, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	event, err := analytics.ParseEvent(body.Event)
	if err != nil {
		fail(c, a.log, err)
		return
	}
	if err := a.svc.Analytics.Track(c.Request.Context(), event); err != nil {
		fail(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (a *AppHandler) GetAnalytics(c *gin.Context) {
	c.Header("Cache-Control", noStore)
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": a.svc.Analytics.Snapshot()})
}

func (a *AppHandler) ResetAnalytics(c *gin.Context) {
	counters, err := a.svc.Analytics.Reset()
	if err != nil {
		fail(c, a.log, err)
		return
	}
	a.log.Info("analytics reset")
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": counters})
}

// optionalFile reads a multipart file field. A missing field yields nil.
func optionalFile(c *gin.Context, field string) ([]byte, error) {
	file, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: can not read %s: %v", errBadRequest, field, err)
	}
	return readUpload(file)
}

func requiredFile(c *gin.Context, field string) ([]byte, error) {
	data, err := optionalFile(c, field)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: can not find %s in request", errBadRequest, field)
	}
	return data, nil
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read file: %v", errBadRequest, err)
	}
	return data, nil
}
