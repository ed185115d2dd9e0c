package validation

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxMessageLength    int
	MaxContentSize      int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

const DefaultMaxMessageLength = 1000

var (
	ErrMessageRequired = errors.New("message is required and must be a string")
	ErrMessageTooLong  = errors.New("message exceeds maximum length")
	ErrUnsafeMessage   = errors.New("invalid message content")
)

var (
	xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
	tagPattern = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
)

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxMessageLength == 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.MaxContentSize == 0 {
		cfg.MaxContentSize = 256 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		method := c.Method()
		if method != fiber.MethodPost && method != fiber.MethodPut && method != fiber.MethodPatch {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		switch c.Path() {
		case "/api/v1/chat/message":
			return validateMessage(c, cfg)
		case "/api/v1/knowledge", "/api/v1/knowledge/":
			if len(c.Body()) > cfg.MaxContentSize {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Knowledge content exceeds maximum size",
				})
			}
		}

		return c.Next()
	}
}

// validateMessage rejects oversized chat messages and strips markup before the turn is logged.
func validateMessage(c *fiber.Ctx, cfg Config) error {
	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	message, _ := req["message"].(string)
	sanitized, err := CleanMessage(message, cfg.MaxMessageLength)
	if err != nil {
		if errors.Is(err, ErrUnsafeMessage) {
			cfg.Logger.Warn("Potential XSS attempt",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if sanitized != message {
		req["message"] = sanitized
		body, err := c.App().Config().JSONEncoder(req)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}
		c.Request().SetBody(body)
	}

	return c.Next()
}

// CleanMessage checks a chat message and returns it with markup removed.
// Chat messages that bypass the HTTP middleware, such as websocket frames, go through it too.
func CleanMessage(message string, maxLength int) (string, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	if strings.TrimSpace(message) == "" {
		return "", ErrMessageRequired
	}
	if utf8.RuneCountInString(message) > maxLength {
		return "", ErrMessageTooLong
	}
	if xssPattern.MatchString(message) {
		return "", ErrUnsafeMessage
	}

	sanitized := sanitizeString(message)
	if sanitized == "" {
		return "", ErrUnsafeMessage
	}
	return sanitized, nil
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	input = tagPattern.ReplaceAllString(input, "")
	return strings.TrimSpace(input)
}
