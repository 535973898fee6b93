package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// CORS allows cross-origin calls from origins. With no origins every origin
// is accepted and credentials stay off, since browsers refuse both together.
func CORS(origins []string) fiber.Handler {
	allow := "*"
	if len(origins) > 0 {
		allow = strings.Join(origins, ",")
	}
	return cors.New(cors.Config{
		AllowOrigins:     allow,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With",
		AllowCredentials: len(origins) > 0,
		ExposeHeaders:    "Content-Length",
		MaxAge:           3600,
	})
}
