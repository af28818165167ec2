package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	app "coverserv/src/app"
	"coverserv/src/auth"
	cfg "coverserv/src/configuration"
	db "coverserv/src/repository"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	stateCookieName = "kn_sso_state"
	stateCookiePath = "/admin/sso"
)

type (
	AuthHandler struct {
		oidcProvider *oidc.Provider
		verifier     *oidc.IDTokenVerifier
		AuthConfig   *oauth2.Config
		issuer       *auth.Issuer
		password     *auth.Password
		dataStore    db.AuthDB
		cookieName   string
		timeout      time.Duration
		log          *zap.Logger
	}

	LoginBody struct {
		Password string `json:"password"`
	}

	LoginResponse struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
)

func randString(nByte int) (string, error) {
	b := make([]byte, nByte)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewAuthHandler sets up password login and, when configured, OIDC single
// sign-on. An unreachable identity provider only disables SSO.
func NewAuthHandler(ctx context.Context, config *cfg.Properties, svc *Services, log *zap.Logger) *AuthHandler {
	a := &AuthHandler{
		issuer:     svc.Issuer,
		password:   svc.Password,
		dataStore:  svc.Tokens,
		cookieName: config.Auth.CookieName,
		timeout:    config.Auth.ReadTimeout,
		log:        log.Named("auth"),
	}
	if !config.SSOEnabled() {
		return a
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	provider, err := oidc.NewProvider(ctx, config.Auth.Host)
	if err != nil {
		a.log.Error("error creating OIDC provider, single sign-on disabled", zap.Error(err))
		return a
	}
	a.log.Info("single sign-on enabled", zap.String("issuer", config.Auth.Host))
	a.oidcProvider = provider
	a.verifier = provider.Verifier(&oidc.Config{ClientID: config.Auth.ID})
	a.AuthConfig = &oauth2.Config{
		ClientID:     config.Auth.ID,
		ClientSecret: config.Auth.Secret,
		RedirectURL:  config.Auth.Redirect,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	return a
}

// Login trades the admin password for a bearer token.
func (a *AuthHandler) Login(c *gin.Context) {
	var body LoginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "error", "error": "password is required"})
		return
	}
	if !a.password.Verify(body.Password) {
		a.log.Warn("admin login failed", zap.String("peer", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "error", "error": "Invalid password"})
		return
	}
	signed, claims, err := a.issue(auth.MethodPassword, "", "")
	if err != nil {
		fail(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": LoginResponse{Token: signed, ExpiresAt: claims.ExpiresAt.Time}})
}

// Logout revokes the token used for this request.
func (a *AuthHandler) Logout(c *gin.Context) {
	claims := c.MustGet(claimsKey).(*auth.Claims)
	a.dataStore.RevokeToken(claims.ID)
	c.SetCookie(a.cookieName, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (a *AuthHandler) Account(c *gin.Context) {
	claims := c.MustGet(claimsKey).(*auth.Claims)
	user := app.User{
		ID:        claims.ID,
		Method:    claims.Method,
		Name:      claims.Name,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": user})
}

func (a *AuthHandler) SSOLogin(c *gin.Context) {
	if a.AuthConfig == nil {
		fail(c, a.log, fmt.Errorf("%w: single sign-on is not configured", errUnavailable))
		return
	}
	state, err := randString(16)
	if err != nil {
		fail(c, a.log, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookieName, state, 600, stateCookiePath, "", false, true)
	c.Redirect(http.StatusFound, a.AuthConfig.AuthCodeURL(state))
}

// SSOCallback finishes the OIDC code flow and stores an admin token in an
// http-only cookie.
func (a *AuthHandler) SSOCallback(c *gin.Context) {
	if a.AuthConfig == nil {
		fail(c, a.log, fmt.Errorf("%w: single sign-on is not configured", errUnavailable))
		return
	}
	expected, err := c.Cookie(stateCookieName)
	c.SetCookie(stateCookieName, "", -1, stateCookiePath, "", false, true)
	if err != nil || expected == "" || c.Query("state") != expected {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "error", "error": "no current state found"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.timeout)
	defer cancel()

	// Exchange the authorization code for access, refresh, and id tokens
	token, err := a.AuthConfig.Exchange(ctx, c.Query("code"))
	if err != nil {
		a.log.Warn("code exchange failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "error", "error": "error getting access token"})
		return
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "error", "error": "no id token in response"})
		return
	}
	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		a.log.Warn("id token rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "error", "error": "error verifying id token"})
		return
	}
	var claims struct {
		Name     string `json:"preferred_username"`
		Email    string `json:"email"`
		Verified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "error", "error": "can not parse id token claims"})
		return
	}

	signed, issued, err := a.issue(auth.MethodSSO, claims.Name, claims.Email)
	if err != nil {
		fail(c, a.log, err)
		return
	}
	a.log.Info("admin signed in", zap.String("name", claims.Name), zap.Bool("email_verified", claims.Verified))
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(a.cookieName, signed, int(time.Until(issued.ExpiresAt.Time).Seconds()), "/", "", false, true)
	c.Redirect(http.StatusFound, "/admin")
}

// RequireAdmin accepts a bearer token or the SSO cookie. Tokens must verify
// and still be registered.
func (a *AuthHandler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			raw, _ = c.Cookie(a.cookieName)
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "error", "error": "Authentication required"})
			return
		}
		claims, err := a.issuer.Parse(raw)
		if err != nil || !a.dataStore.VerifyToken(claims.ID) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "error", "error": "Invalid authentication"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func (a *AuthHandler) issue(method, name, email string) (string, *auth.Claims, error) {
	signed, claims, err := a.issuer.Issue(method, name, email)
	if err != nil {
		return "", nil, err
	}
	if err := a.dataStore.UploadToken(claims.ID, claims.ExpiresAt.Time); err != nil {
		return "", nil, err
	}
	a.log.Info("admin token issued", zap.String("method", method), zap.String("jti", claims.ID))
	return signed, claims, nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
