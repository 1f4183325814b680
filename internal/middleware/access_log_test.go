package middleware

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/lumen-trade/signin/internal/logging"
)

func TestAccessLogRecordsErrorStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	app := fiber.New()
	app.Use(RequestID(), AccessLog(logging.NewWithWriter(&buf, "debug")))
	app.Post("/login/:flowId/password", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusUnauthorized, "incorrect password or code")
	})

	req := httptest.NewRequest(fiber.MethodPost, "/login/abc/password", nil)
	req.Header.Set(requestIDHeader, "req-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.Header.Get(requestIDHeader) != "req-42" {
		t.Fatalf("request id not echoed")
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["status"] != float64(fiber.StatusUnauthorized) || entry["level"] != "WARN" {
		t.Fatalf("unexpected log entry %v", entry)
	}
	if entry["request_id"] != "req-42" || entry["method"] != fiber.MethodPost {
		t.Fatalf("unexpected log entry %v", entry)
	}
}
