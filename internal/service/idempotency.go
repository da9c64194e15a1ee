package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"production-ledger/internal/models"
	"production-ledger/internal/redisclient"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// withIdempotency runs fn at most once per key and replays its stored result into out.
// The key is bound to request; reusing it with a different request is a conflict.
// A key whose request failed before commit is released so the caller may retry it;
// a key whose outcome is unknown stays pending until it expires.
func (s *LedgerService) withIdempotency(ctx context.Context, key string, request, out interface{}, fn func() error) error {
	if key == "" || s.idempotency == nil {
		return fn()
	}

	fp, err := fingerprint(request)
	if err != nil {
		return err
	}
	claimed, stored, err := s.idempotency.Claim(ctx, key, fp, s.opts.IdempotencyTTL)
	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrInFlight):
			return fmt.Errorf("%w: request %q is still in flight", models.ErrConflict, key)
		case errors.Is(err, redisclient.ErrKeyReused):
			return fmt.Errorf("%w: idempotency key %q belongs to a different request", models.ErrConflict, key)
		}
		return fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if !claimed {
		if err := json.Unmarshal(stored, out); err != nil {
			return fmt.Errorf("failed to decode stored response: %w", err)
		}
		s.logger.Info("Replayed idempotent request", zap.String("key", key))
		return nil
	}

	if err := fn(); err != nil {
		if definite(err) {
			if relErr := s.idempotency.Release(ctx, key); relErr != nil {
				s.logger.Error("Failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
			}
		}
		return err
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	if err := s.idempotency.Complete(ctx, key, payload, s.opts.IdempotencyTTL); err != nil {
		s.logger.Error("Failed to store idempotent response", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// fingerprint identifies a request body; callers pass it without credentials or the key itself
func fingerprint(request interface{}) (string, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("%w: cannot encode request: %v", models.ErrValidation, err)
	}
	return strconv.FormatUint(xxhash.Sum64(payload), 16), nil
}

// definite reports whether err was raised before anything was committed
func definite(err error) bool {
	for _, target := range []error{
		models.ErrValidation,
		models.ErrSameStage,
		models.ErrInsufficientQuantity,
		models.ErrUnauthorized,
		models.ErrNotFound,
		models.ErrConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
