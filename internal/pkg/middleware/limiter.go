package middleware

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"
)

// NewLimiterStorage creates fiber storage on the same redis server as opts,
// so the webhook rate limit is shared by every process.
func NewLimiterStorage(opts *goredis.Options) fiber.Storage {
	host := "localhost"
	port := 6379
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		// the database after the cache one keeps limiter keys apart from the queue
		Database: (opts.DB + 1) % 16,
		Reset:    false,
	})
}

// DefaultWebhookLimit is the number of deliveries per minute a source may send for one company
const DefaultWebhookLimit = 120

// WebhookLimiter limits deliveries per source address and company.
// storage may be nil for an in-memory limiter.
func WebhookLimiter(storage fiber.Storage, max int) fiber.Handler {
	if max <= 0 {
		max = DefaultWebhookLimit
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "webhook:" + c.IP() + ":" + c.Params("companyId")
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too_many_requests", "message": "Rate limit exceeded"})
		},
		Storage: storage,
	})
}
