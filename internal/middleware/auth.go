package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/models"
	"github.com/gofiber/fiber/v2"
)

// MinAPIKeyLength is the minimum required length for API keys
const MinAPIKeyLength = 32

// CodeUnauthorized is the error code for missing or unknown keys.
const CodeUnauthorized = "UNAUTHORIZED"

// ValidateAPIKey checks if an API key meets the security requirements
func ValidateAPIKey(key string) bool {
	return len(key) >= MinAPIKeyLength && strings.TrimSpace(key) != ""
}

// requestKey reads the key from X-API-Key, "Authorization: Bearer <key>" or
// a bare Authorization header.
func requestKey(c *fiber.Ctx) string {
	if key := c.Get("X-API-Key"); key != "" {
		return key
	}
	auth := c.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return auth
}

// APIKeyAuth guards the API group. A disabled config passes every request.
// Keys shorter than MinAPIKeyLength are ignored with a warning.
func APIKeyAuth(logger *logging.Logger, cfg config.AuthConfig) fiber.Handler {
	if !cfg.Enabled {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	var keys [][]byte
	for _, key := range cfg.APIKeys {
		if key == "" {
			continue
		}
		if !ValidateAPIKey(key) {
			logger.Warn("API key does not meet security requirements",
				"key_length", len(key),
				"min_required", MinAPIKeyLength,
				"key_prefix", maskAPIKey(key),
			)
			continue
		}
		keys = append(keys, []byte(key))
	}
	if len(keys) == 0 {
		logger.Error("Authentication enabled without a valid API key, every request will be rejected",
			"total_keys", len(cfg.APIKeys),
			"min_required_length", MinAPIKeyLength,
		)
	}

	known := func(key string) bool {
		candidate := []byte(key)
		match := 0
		for _, k := range keys {
			match |= subtle.ConstantTimeCompare(candidate, k)
		}
		return match == 1
	}

	return func(c *fiber.Ctx) error {
		log := logging.FromContext(c.UserContext())
		key := requestKey(c)

		if key == "" {
			log.Warn("API key missing", "path", c.Path(), "method", c.Method(), "ip", c.IP())
			return unauthorized(c, "API key is required. Provide it via X-API-Key header or Authorization header.")
		}
		if !known(key) {
			log.Warn("Invalid API key", "path", c.Path(), "method", c.Method(), "ip", c.IP(), "api_key_prefix", maskAPIKey(key))
			return unauthorized(c, "Invalid API key.")
		}

		c.SetUserContext(logging.WithLogger(c.UserContext(), log.With("api_key_prefix", maskAPIKey(key))))
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    CodeUnauthorized,
			Message: msg,
			Path:    c.Path(),
		},
	})
}

// maskAPIKey masks API key for logging (show only first 4 chars)
func maskAPIKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
