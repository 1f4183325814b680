package server

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/lumen-trade/signin/internal/config"
	"github.com/lumen-trade/signin/internal/logging"
)

func TestErrorHandlerHidesInternalErrors(t *testing.T) {
	app := newApp(config.Config{AppName: "test", AppEnv: "development"})
	app.Get("/boom", func(*fiber.Ctx) error { return errors.New("pq: relation customers does not exist") })
	app.Get("/denied", func(*fiber.Ctx) error { return fiber.NewError(fiber.StatusUnauthorized, "sign in required") })

	cases := []struct {
		path    string
		status  int
		message string
	}{
		{"/boom", fiber.StatusInternalServerError, genericMessage},
		{"/denied", fiber.StatusUnauthorized, "sign in required"},
	}
	for _, tc := range cases {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, tc.path, nil))
		if err != nil {
			t.Fatalf("%s: %v", tc.path, err)
		}
		var body struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode: %v", tc.path, err)
		}
		if resp.StatusCode != tc.status || body.Error != tc.message {
			t.Fatalf("%s: got %d %q", tc.path, resp.StatusCode, body.Error)
		}
	}
}

func TestNewRequiresRedis(t *testing.T) {
	if _, err := New(config.Config{AppEnv: "development"}, nil, nil, logging.Discard()); err == nil {
		t.Fatalf("expected an error without redis")
	}
}
