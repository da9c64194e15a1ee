package ledger

import (
	"testing"

	"production-ledger/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeReason(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ReasonQuantityCorrection},
		{"blank", "   \t", ReasonQuantityCorrection},
		{"manual", "  manual INSERTION ", ReasonManualInsertion},
		{"italian manual", "Inserimento manuale", ReasonManualInsertion},
		{"correction", "qty correction", ReasonQuantityCorrection},
		{"removed", "DELETED", ReasonRemoved},
		{"moved", "moved to printed", "Moved to Printed"},
		{"move alias", "Spostato in  cucito", "Moved to Sewn"},
		{"arrow", "-> depot", "Moved to Depot"},
		{"bare stage", "calendared", "Moved to Calendared"},
		{"moved to removed", "moved to removed", ReasonRemoved},
		{"unknown", "  damaged   in transit ", "Damaged in transit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeReason(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeReason(got), "normalizing twice must be stable")
		})
	}
}

func TestNormalizeActor(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", SystemActor},
		{"null", SystemActor},
		{"undefined", SystemActor},
		{"  SYSTEM ", SystemActor},
		{"system:cron", SystemActor},
		{"  Mario   Rossi ", "Mario Rossi"},
		{"giulia", "giulia"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeActor(tt.in), tt.in)
	}
}

func TestNormalizeEntriesDoesNotMutateInput(t *testing.T) {
	in := []models.MovementLogEntry{{Reason: " moved to sewn", Actor: ""}}

	out := NormalizeEntries(in)

	assert.Equal(t, "Moved to Sewn", out[0].Reason)
	assert.Equal(t, SystemActor, out[0].Actor)
	assert.Equal(t, " moved to sewn", in[0].Reason)
}
