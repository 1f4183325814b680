package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lumen-trade/signin/internal/phone"
)

const loginRateWindow = time.Minute

// LoginRateLimit caps login attempts per minute. Attempts are counted per
// flow on step routes, per canonical phone number on /start, and per client
// IP otherwise. Malformed numbers count against the
// IP so they cannot dodge the limit.
func LoginRateLimit(cache *redis.Client, policy phone.Policy, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		key := "rl:login:" + rateSubject(c, policy)
		ctx := c.UserContext()
		cnt, err := cache.Incr(ctx, key).Result()
		if err != nil {
			// fail open when Redis is unavailable
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(ctx, key, loginRateWindow)
		}
		if cnt > int64(maxPerMin) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(loginRateWindow.Seconds())))
			return fiber.NewError(http.StatusTooManyRequests, "too many login attempts, try again later")
		}
		return c.Next()
	}
}

// rateSubject keys step routes by their flow, whatever the body says, so a
// caller cannot buy a fresh bucket per guess. Only /start, which has no flow
// yet, is keyed by the number being signed in.
func rateSubject(c *fiber.Ctx, policy phone.Policy) string {
	if flowID := c.Params("flowId"); flowID != "" {
		return "flow:" + flowID
	}
	var req struct {
		Phone string `json:"phone"`
	}
	if err := c.BodyParser(&req); err == nil && req.Phone != "" {
		if canonical, err := policy.Canonicalize(req.Phone); err == nil {
			return "phone:" + canonical
		}
	}
	return "ip:" + c.IP()
}
