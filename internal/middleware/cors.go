package middleware

import "github.com/gin-gonic/gin"

// CORS allows a single origin on every response. Preflight headers are
// added for OPTIONS; the route handler still writes the preflight body.
func CORS(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowedOrigin)
		c.Header("Vary", "Origin")
		if c.Request.Method == "OPTIONS" {
			c.Header("Access-Control-Allow-Headers", "Content-Type")
			c.Header("Access-Control-Allow-Methods", "POST")
		}
		c.Next()
	}
}
