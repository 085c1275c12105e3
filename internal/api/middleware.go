package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// corsMiddleware mirrors the permissive cross-origin policy the browser
// extension depends on: every response is readable from any origin, and
// preflights are answered before authentication runs.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "POST, GET")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
