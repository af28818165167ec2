package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coverserv/src/analytics"
	"coverserv/src/doi"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type (
	DOICompleteBody struct {
		SessionID string `json:"sessionId"`
		// Milliseconds since the epoch; zero means now.
		Timestamp int64 `json:"timestamp"`
	}

	DOICodeBody struct {
		Code string `json:"code"`
	}
)

// PostDOIStart marks the moment the visitor leaves for the registration form.
func (a *AppHandler) PostDOIStart(c *gin.Context) {
	sess, err := a.svc.Gate.StartRegistration(c.Request.Context(), clientID(c))
	if err != nil {
		fail(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": gin.H{
		"sessionId":             sess.ID,
		"registrationStartTime": sess.RegistrationStartedAt,
		"doiUrl":                a.svc.Campaign.Load().WhiteLabel.DOIURL,
	}})
}

// PostDOIComplete takes the completion signal relayed by the registration
// popup. A signal for another session is accepted silently and ignored.
func (a *AppHandler) PostDOIComplete(c *gin.Context) {
	var body DOICompleteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, a.log, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	var at time.Time
	if body.Timestamp > 0 {
		at = time.UnixMilli(body.Timestamp)
	}
	if _, err := a.recordCompletion(c.Request.Context(), clientID(c), body.SessionID, at); err != nil {
		fail(c, a.log, err)
		return
	}
	a.respondStatus(c)
}

// GetDOIReturn handles the redirect back from the registration site
// (?doi_completed=<ms>&session=<id>) and sends the visitor to the start page.
func (a *AppHandler) GetDOIReturn(c *gin.Context) {
	var at time.Time
	if raw := c.Query("doi_completed"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms <= 0 {
			a.log.Debug("ignoring malformed completion timestamp", zap.String("value", raw))
			c.Redirect(http.StatusFound, "/")
			return
		}
		at = time.UnixMilli(ms)
	}
	if _, err := a.recordCompletion(c.Request.Context(), clientID(c), c.Query("session"), at); err != nil {
		a.log.Warn("could not record completion from return url", zap.Error(err))
	}
	c.Redirect(http.StatusFound, "/")
}

// GetDOIStatus reports the gate state. With ?wait=1 it holds the request
// until the registration completes or the wait limit passes.
func (a *AppHandler) GetDOIStatus(c *gin.Context) {
	if c.Query("wait") == "1" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), a.maxWait)
		_, err := a.svc.Poller.Wait(ctx, clientID(c))
		cancel()
		if err != nil {
			fail(c, a.log, err)
			return
		}
	}
	a.respondStatus(c)
}

func (a *AppHandler) PostDOICodeGenerate(c *gin.Context) {
	sess, err := a.svc.Sessions.Current(c.Request.Context(), clientID(c))
	if err != nil {
		fail(c, a.log, err)
		return
	}
	gen, err := doi.NewCodeGenerator(a.svc.Campaign.Load().Security.DOISecret)
	if err != nil {
		fail(c, a.log, err)
		return
	}
	code, err := gen.Generate(sess.ID)
	if err != nil {
		fail(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": code})
}

// PostDOICodeValidate checks the code format only. It never marks the
// registration as completed; that takes a signal from the registration site.
func (a *AppHandler) PostDOICodeValidate(c *gin.Context) {
	var body DOICodeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, a.log, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	code := strings.ToUpper(strings.TrimSpace(body.Code))
	switch {
	case code == "":
		c.JSON(http.StatusOK, gin.H{"status": "success", "payload": gin.H{"valid": false, "message": "Code is required"}})
	case !doi.ValidateCode(code):
		c.JSON(http.StatusOK, gin.H{"status": "success", "payload": gin.H{"valid": false, "message": "Invalid code format"}})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "success", "payload": gin.H{"valid": true, "message": "Code is valid"}})
	}
}

// recordCompletion forwards a signal to the gate and counts the first
// completion of a session.
func (a *AppHandler) recordCompletion(ctx context.Context, client, sessionID string, at time.Time) (bool, error) {
	before, err := a.svc.Gate.IsCompleted(ctx, client)
	if err != nil {
		return false, err
	}
	if _, err := a.svc.Gate.RecordCompletion(ctx, client, sessionID, at); err != nil {
		return false, err
	}
	after, err := a.svc.Gate.IsCompleted(ctx, client)
	if err != nil {
		return false, err
	}
	if after && !before {
		if err := a.svc.Analytics.Track(ctx, analytics.DOICompletion); err != nil {
			a.log.Warn("could not count completion", zap.Error(err))
		}
	}
	return after, nil
}

func (a *AppHandler) respondStatus(c *gin.Context) {
	st, err := a.svc.Gate.Status(c.Request.Context(), clientID(c))
	if err != nil {
		fail(c, a.log, err)
		return
	}
	c.Header("Cache-Control", noStore)
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": st})
}
