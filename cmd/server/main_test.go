package main

import (
	"testing"

	"production-ledger/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func TestEditPolicy(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name    string
		env     string
		hash    string
		want    auth.Policy
		wantErr bool
	}{
		{"production without secret", "production", "", nil, true},
		{"production with secret", "production", string(hash), &auth.SharedSecret{}, false},
		{"development without secret", "development", "", auth.AllowAll{}, false},
		{"development with secret", "development", string(hash), &auth.SharedSecret{}, false},
		{"malformed hash", "development", "not-a-hash", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, err := editPolicy(tt.env, tt.hash, zap.NewNop())
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, policy)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, policy)
		})
	}
}
