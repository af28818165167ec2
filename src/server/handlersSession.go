package server

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"coverserv/src/analytics"
	"coverserv/src/campaign"
	"coverserv/src/compositor"
	"coverserv/src/crop"
	"coverserv/src/doi"
	"coverserv/src/moderation"
	"coverserv/src/pipeline"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type (
	ComposeResponse struct {
		SessionID  string            `json:"sessionId"`
		TemplateID string            `json:"templateId"`
		Crop       crop.Region       `json:"crop"`
		Moderation moderationPayload `json:"moderation"`
		CreatedAt  time.Time         `json:"timestamp"`
	}

	SessionResponse struct {
		SessionID             string     `json:"sessionId"`
		TemplateID            string     `json:"templateId,omitempty"`
		CreatedAt             time.Time  `json:"timestamp"`
		RegistrationStartedAt *time.Time `json:"registrationStartTime,omitempty"`
		DOI                   doi.Status `json:"doi"`
	}

	moderationPayload struct {
		Flagged    bool     `json:"flagged"`
		Categories []string `json:"categories,omitempty"`
		Skipped    bool     `json:"skipped,omitempty"`
		Warning    string   `json:"warning,omitempty"`
	}

	ShareResponse struct {
		URL       string    `json:"url"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
)

var cropFields = []string{"x", "y", "width", "height"}

// PostDefaultCrop proposes the initial crop for an uploaded photo.
func (a *AppHandler) PostDefaultCrop(c *gin.Context) {
	photo, err := requiredFile(c, "image")
	if err != nil {
		fail(c, a.log, err)
		return
	}
	region, err := a.svc.Pipeline.DefaultCrop(photo)
	if err != nil {
		fail(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": gin.H{
		"crop":   region,
		"aspect": a.svc.Pipeline.Aspect(),
	}})
}

// PostModerate classifies a photo on its own, outside a submission.
func (a *AppHandler) PostModerate(c *gin.Context) {
	photo, err := requiredFile(c, "image")
	if err != nil {
		fail(c, a.log, err)
		return
	}
	if _, _, err := compositor.DecodeBytes(photo); err != nil {
		fail(c, a.log, err)
		return
	}
	res := a.svc.Moderator.Moderate(c.Request.Context(), photo)
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": toModerationPayload(res)})
}

// PostCompose runs a photo through crop, moderation and rendering and keeps
// the composite as the client's session.
func (a *AppHandler) PostCompose(c *gin.Context) {
	cfg := a.svc.Campaign.Load()
	if !cfg.IsActive(a.svc.Campaign.Now()) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "error", "error": cfg.Text(campaign.ActionEndedMessage)})
		return
	}

	photo, err := requiredFile(c, "image")
	if err != nil {
		fail(c, a.log, err)
		return
	}
	region, err := cropFromForm(c)
	if err != nil {
		fail(c, a.log, err)
		return
	}

	out, err := a.svc.Pipeline.Submit(c.Request.Context(), pipeline.Submission{
		Client:     clientID(c),
		Photo:      photo,
		Crop:       region,
		TemplateID: c.PostForm("templateId"),
	})
	switch {
	case errors.Is(err, pipeline.ErrRejected):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"message":    "error",
			"error":      cfg.Text(campaign.ModerationRejected),
			"moderation": toModerationPayload(out.Moderation),
		})
		return
	case err != nil && statusOf(err) == http.StatusInternalServerError:
		a.log.Error("compose failed", zap.String("client", clientID(c)), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "error", "error": cfg.Text(campaign.RenderFailed)})
		return
	case err != nil:
		fail(c, a.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": ComposeResponse{
		SessionID:  out.Session.ID,
		TemplateID: out.Template.ID,
		Crop:       out.Crop,
		Moderation: toModerationPayload(out.Moderation),
		CreatedAt:  out.Session.CreatedAt,
	}})
}

func (a *AppHandler) GetSession(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := a.svc.Sessions.Current(ctx, clientID(c))
	if err != nil {
		fail(c, a.log, err)
		return
	}
	st, err := a.svc.Gate.Status(ctx, clientID(c))
	if err != nil {
		fail(c, a.log, err)
		return
	}
	c.Header("Cache-Control", noStore)
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": SessionResponse{
		SessionID:             sess.ID,
		TemplateID:            sess.TemplateID,
		CreatedAt:             sess.CreatedAt,
		RegistrationStartedAt: sess.RegistrationStartedAt,
		DOI:                   st,
	}})
}

// DeleteSession starts over: the composite and any completion are dropped.
func (a *AppHandler) DeleteSession(c *gin.Context) {
	if err := a.svc.Pipeline.Reset(c.Request.Context(), clientID(c)); err != nil {
		fail(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetPreview serves a reduced copy of the composite; it needs no verification.
func (a *AppHandler) GetPreview(c *gin.Context) {
	sess, err := a.svc.Sessions.Current(c.Request.Context(), clientID(c))
	if err != nil {
		fail(c, a.log, err)
		return
	}
	preview, err := a.svc.Compositor.Preview(sess.ImageData, previewMax)
	if err != nil {
		fail(c, a.log, err)
		return
	}
	c.Header("Cache-Control", noStore)
	c.Data(http.StatusOK, "image/jpeg", preview)
}

// GetDownload serves the full composite once registration is completed.
func (a *AppHandler) GetDownload(c *gin.Context) {
	ctx := c.Request.Context()
	if !a.requireCompleted(c) {
		return
	}
	sess, err := a.svc.Sessions.Current(ctx, clientID(c))
	if err != nil {
		fail(c, a.log, err)
		return
	}
	a.track(c, analytics.ImageDownload)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName(sess.CreatedAt)))
	c.Header("Cache-Control", noStore)
	c.Data(http.StatusOK, "image/jpeg", sess.ImageData)
}

// PostShare publishes the composite and returns a time-limited link.
func (a *AppHandler) PostShare(c *gin.Context) {
	ctx := c.Request.Context()
	if !a.requireCompleted(c) {
		return
	}
	if a.svc.Shares == nil {
		fail(c, a.log, fmt.Errorf("%w: sharing is not available", errUnavailable))
		return
	}
	sess, err := a.svc.Sessions.Current(ctx, clientID(c))
	if err != nil {
		fail(c, a.log, err)
		return
	}
	link, err := a.svc.Shares.PublishShare(ctx, sess.ID+".jpg", sess.ImageData, a.shareTTL)
	if err != nil {
		fail(c, a.log, err)
		return
	}
	a.track(c, analytics.ImageShare)
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": ShareResponse{
		URL:       link.String(),
		ExpiresAt: a.svc.Sessions.Now().Add(a.shareTTL),
	}})
}

// requireCompleted aborts with 403 and the campaign's wording unless the
// client's registration is completed.
func (a *AppHandler) requireCompleted(c *gin.Context) bool {
	err := a.svc.Gate.Require(c.Request.Context(), clientID(c))
	if errors.Is(err, doi.ErrNotCompleted) {
		cfg := a.svc.Campaign.Load()
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "error", "error": cfg.Text(campaign.DOIRequired)})
		return false
	}
	if err != nil {
		fail(c, a.log, err)
		return false
	}
	return true
}

func (a *AppHandler) track(c *gin.Context, event analytics.Event) {
	if err := a.svc.Analytics.Track(c.Request.Context(), event); err != nil {
		a.log.Warn("could not count event", zap.String("event", string(event)), zap.Error(err))
	}
}

// cropFromForm reads the optional crop rectangle. Either all four fields are
// sent or none.
func cropFromForm(c *gin.Context) (*crop.Region, error) {
	values := make([]float64, len(cropFields))
	present := 0
	for i, name := range cropFields {
		raw, ok := c.GetPostForm(name)
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: crop %s: %v", errBadRequest, name, err)
		}
		values[i] = v
		present++
	}
	switch present {
	case 0:
		return nil, nil
	case len(cropFields):
		return &crop.Region{X: values[0], Y: values[1], Width: values[2], Height: values[3]}, nil
	}
	return nil, fmt.Errorf("%w: incomplete crop rectangle", errBadRequest)
}

func toModerationPayload(res moderation.Result) moderationPayload {
	p := moderationPayload{Flagged: res.Flagged, Skipped: res.Skipped, Warning: res.Warning}
	for name, hit := range res.Categories {
		if hit {
			p.Categories = append(p.Categories, name)
		}
	}
	sort.Strings(p.Categories)
	return p
}

func fileName(created time.Time) string {
	return fmt.Sprintf("kn-titelseite-%s.jpg", created.UTC().Format("20060102-150405"))
}
