package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lumen-trade/signin/internal/autherr"
	"github.com/lumen-trade/signin/internal/metrics"
	"github.com/lumen-trade/signin/internal/notification"
)

const codeDigits = 6

// Handle identifies one issued passcode.
type Handle string

// Gateway sends and confirms one-time passcodes.
type Gateway interface {
	Send(ctx context.Context, destination string) (Handle, error)
	Confirm(ctx context.Context, handle Handle, code string) (bool, error)
}

// Config tunes a Service.
type Config struct {
	// Purpose namespaces handles, e.g. "login" or "recovery".
	Purpose     string
	Kind        string
	TTL         time.Duration
	MaxAttempts int
	SendTimeout time.Duration
}

// Service issues passcodes, keeps only their hash in Redis and dispatches the
// plaintext through a notifier.
type Service struct {
	cache    *redis.Client
	notifier notification.Notifier
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
	generate func() (string, error)
}

// NewService builds an OTP gateway.
func NewService(cache *redis.Client, notifier notification.Notifier, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.SendTimeout <= 0 || cfg.SendTimeout > 15*time.Second {
		cfg.SendTimeout = 15 * time.Second
	}
	return &Service{cache: cache, notifier: notifier, cfg: cfg, metrics: m, logger: logger, generate: generateCode}
}

func (s *Service) key(h Handle) string {
	return fmt.Sprintf("otp:%s:%s", s.cfg.Purpose, h)
}

// Send stores a fresh code for destination and dispatches it. A gateway
// failure or timeout yields autherr.ErrProviderUnavailable and the handle is
// discarded.
func (s *Service) Send(ctx context.Context, destination string) (Handle, error) {
	code, err := s.generate()
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	handle := Handle(uuid.NewString())
	key := s.key(handle)
	_, err = s.cache.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "hash", hashCode(code), "attempts", 0)
		p.Expire(ctx, key, s.cfg.TTL)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	err = s.notifier.Send(sendCtx, notification.Message{
		Kind:        s.cfg.Kind,
		Destination: destination,
		Body:        "Your verification code",
		Code:        code,
	})
	if err != nil {
		s.cache.Del(context.WithoutCancel(ctx), key)
		s.metrics.OTPDispatch("failed")
		if s.logger != nil {
			s.logger.Warn("otp dispatch failed", slog.String("purpose", s.cfg.Purpose), slog.Any("error", err))
		}
		return "", fmt.Errorf("%w: %v", autherr.ErrProviderUnavailable, err)
	}
	s.metrics.OTPDispatch("sent")
	return handle, nil
}

const confirmRetries = 4

// errConfirmContended is returned when concurrent confirms kept invalidating
// the watched handle.
var errConfirmContended = errors.New("otp: handle is busy, try again")

// Confirm checks code against handle. A match consumes the handle; repeated
// mismatches burn it after MaxAttempts. The read, the compare and the write
// run under WATCH, so an attempt is never lost and a handle that expires
// mid-check is never recreated without its TTL.
func (s *Service) Confirm(ctx context.Context, handle Handle, code string) (bool, error) {
	if handle == "" {
		return false, nil
	}
	key := s.key(handle)
	presented := hashCode(code)

	for i := 0; i < confirmRetries; i++ {
		var matched bool
		err := s.cache.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			stored, ok := fields["hash"]
			if !ok {
				return redis.Nil
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1 {
				matched = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}
			attempts, _ := strconv.Atoi(fields["attempts"])
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if attempts+1 >= s.cfg.MaxAttempts {
					pipe.Del(ctx, key)
				} else {
					pipe.HIncrBy(ctx, key, "attempts", 1)
				}
				return nil
			})
			return err
		}, key)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return false, nil
		case err != nil:
			return false, fmt.Errorf("confirm otp: %w", err)
		}
		return matched, nil
	}
	return false, errConfirmContended
}

func generateCode() (string, error) {
	b := make([]byte, codeDigits)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := make([]byte, codeDigits)
	for i := range b {
		s[i] = '0' + (b[i] % 10)
	}
	return string(s), nil
}

func hashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}
