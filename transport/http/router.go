package http

import (
	"github.com/gin-gonic/gin"

	"github.com/relier-id/relier/ports"
	"github.com/relier-id/relier/service"
)

// SetupRouter sets up the Gin router
func SetupRouter(rp *service.RelyingParty, tokenizer ports.Tokenizer, returnTo, realm string) *gin.Engine {
	router := gin.Default()

	handlers := NewAuthHandlers(rp, tokenizer, returnTo, realm)

	// Sign-in routes
	auth := router.Group("/auth")
	{
		auth.GET("/login", handlers.Login)
		auth.GET("/callback", handlers.Callback)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(SessionMiddleware(tokenizer))
	{
		api.GET("/me", handlers.Me)
	}

	return router
}
