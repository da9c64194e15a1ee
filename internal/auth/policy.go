package auth

import (
	"context"
	"fmt"

	"production-ledger/internal/models"
	"production-ledger/internal/pipeline"

	"golang.org/x/crypto/bcrypt"
)

// Action names the privileged operation being confirmed
type Action string

const (
	ActionEditQuantity Action = "edit_quantity"
	ActionMove         Action = "move"
	ActionDelete       Action = "delete"
	ActionInsert       Action = "insert"
)

// Request describes a gated mutation of a row
type Request struct {
	Action        Action
	Row           *models.ProductionRow
	Actor         string
	Authorization string
}

// Policy decides whether a gated mutation may proceed
type Policy interface {
	Authorize(ctx context.Context, req Request) error
}

// Required reports whether a mutation of a row at stage must be confirmed.
// Rows still at the initial stage are never gated.
func Required(stage pipeline.Stage) bool {
	return stage != pipeline.Initial
}

// Check consults policy only for gated stages
func Check(ctx context.Context, policy Policy, req Request) error {
	if req.Row == nil || !Required(req.Row.Stage) {
		return nil
	}
	return policy.Authorize(ctx, req)
}

// AllowAll accepts every request
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, Request) error { return nil }

// SharedSecret is a confirmation gate comparing the supplied value with a bcrypt hash
type SharedSecret struct {
	hash []byte
}

// NewSharedSecret builds a gate from a bcrypt hash
func NewSharedSecret(hash string) (*SharedSecret, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid edit secret hash: %w", err)
	}
	return &SharedSecret{hash: []byte(hash)}, nil
}

// Authorize implements Policy
func (s *SharedSecret) Authorize(_ context.Context, req Request) error {
	if req.Authorization == "" {
		return fmt.Errorf("%w: confirmation missing for %s", models.ErrUnauthorized, req.Action)
	}
	if err := bcrypt.CompareHashAndPassword(s.hash, []byte(req.Authorization)); err != nil {
		return fmt.Errorf("%w: confirmation rejected for %s", models.ErrUnauthorized, req.Action)
	}
	return nil
}

// PolicyFunc adapts a function to Policy
type PolicyFunc func(ctx context.Context, req Request) error

func (f PolicyFunc) Authorize(ctx context.Context, req Request) error {
	return f(ctx, req)
}
