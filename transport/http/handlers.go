package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relier-id/relier/core"
	"github.com/relier-id/relier/ports"
	"github.com/relier-id/relier/service"
)

// AuthHandlers contains HTTP handlers for the sign-in endpoints
type AuthHandlers struct {
	rp        *service.RelyingParty
	tokenizer ports.Tokenizer
	returnTo  string
	realm     string
}

// NewAuthHandlers creates new auth handlers. returnTo is the absolute
// URL of the callback endpoint; realm is the trust realm shown to the
// user at the provider.
func NewAuthHandlers(rp *service.RelyingParty, tokenizer ports.Tokenizer, returnTo, realm string) *AuthHandlers {
	return &AuthHandlers{
		rp:        rp,
		tokenizer: tokenizer,
		returnTo:  returnTo,
		realm:     realm,
	}
}

// Login starts a sign-in attempt: discovery, association, redirect
func (h *AuthHandlers) Login(c *gin.Context) {
	identifier := c.Query("id")
	if identifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id parameter"})
		return
	}

	redirect, err := h.rp.BeginAuthentication(c.Request.Context(), identifier, h.returnTo, h.realm)
	if err != nil {
		var assocErr *core.AssociationError
		switch {
		case errors.Is(err, core.ErrMalformedMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identifier"})
		case errors.As(err, &assocErr):
			c.JSON(http.StatusBadGateway, gin.H{"error": "provider unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start authentication"})
		}
		return
	}

	c.Redirect(http.StatusFound, redirect)
}

// Callback handles the provider's redirect back and mints a session
// token on acceptance. Rejections surface only their coarse category;
// verification internals stay out of responses.
func (h *AuthHandlers) Callback(c *gin.Context) {
	result, err := h.rp.CompleteAuthentication(c.Request.Context(), h.returnTo, c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification unavailable"})
		return
	}

	if !result.Verified {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication " + result.Reason.Category()})
		return
	}

	token, err := h.tokenizer.SessionToken(result)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_token": token,
		"claimed_id":    result.ClaimedID,
		"attributes":    result.Attributes,
	})
}

// Me returns information about the authenticated user
func (h *AuthHandlers) Me(c *gin.Context) {
	session, exists := c.Get(sessionContextKey)
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session not found in context"})
		return
	}
	info := session.(*core.SessionInfo)

	c.JSON(http.StatusOK, gin.H{
		"claimed_id": info.ClaimedID,
		"attributes": info.Attributes,
		"expires_at": info.ExpiresAt,
	})
}
