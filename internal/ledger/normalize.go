package ledger

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"production-ledger/internal/models"
	"production-ledger/internal/pipeline"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Controlled reason vocabulary
const (
	ReasonManualInsertion    = "Manual insertion"
	ReasonQuantityCorrection = "Quantity correction"
	ReasonRemoved            = "Removed"
	ReasonProductionRequest  = "Production request"

	movedToPrefix = "Moved to "
)

// SystemActor is recorded when no human actor is known
const SystemActor = "System"

var reasonAliases = map[string]string{
	"manual insertion":     ReasonManualInsertion,
	"manual insert":        ReasonManualInsertion,
	"manual":               ReasonManualInsertion,
	"insert":               ReasonManualInsertion,
	"inserimento manuale":  ReasonManualInsertion,
	"quantity correction":  ReasonQuantityCorrection,
	"qty correction":       ReasonQuantityCorrection,
	"correction":           ReasonQuantityCorrection,
	"quantity update":      ReasonQuantityCorrection,
	"modifica quantità":    ReasonQuantityCorrection,
	"rettifica":            ReasonQuantityCorrection,
	"removed":              ReasonRemoved,
	"remove":               ReasonRemoved,
	"deleted":              ReasonRemoved,
	"delete":               ReasonRemoved,
	"eliminato":            ReasonRemoved,
	"caricato a magazzino": ReasonRemoved,
	"production request":   ReasonProductionRequest,
	"order":                ReasonProductionRequest,
	"ordine":               ReasonProductionRequest,
}

var movePrefixes = []string{
	"moved to ",
	"move to ",
	"moved ",
	"spostato in ",
	"spostato a ",
	"sposta in ",
	"-> ",
	"→ ",
}

var systemActors = map[string]struct{}{
	"":          {},
	"null":      {},
	"nil":       {},
	"undefined": {},
	"none":      {},
	"system":    {},
	"sistema":   {},
	"auto":      {},
	"automatic": {},
	"cron":      {},
	"worker":    {},
}

// MovedTo returns the canonical reason for a move into stage
func MovedTo(stage pipeline.Stage) string {
	return movedToPrefix + stage.String()
}

// NormalizeReason maps free text onto the controlled reason vocabulary.
// Unrecognized text is returned trimmed with its first letter upper-cased.
func NormalizeReason(raw string) string {
	clean := collapse(raw)
	if clean == "" {
		return ReasonQuantityCorrection
	}
	key := fold(clean)

	if canonical, ok := reasonAliases[key]; ok {
		return canonical
	}
	for _, prefix := range movePrefixes {
		if rest, ok := strings.CutPrefix(key, prefix); ok {
			if st, err := pipeline.ParseStage(rest); err == nil {
				return reasonForStage(st)
			}
		}
	}
	if st, err := pipeline.ParseStage(key); err == nil {
		return reasonForStage(st)
	}
	return upperFirst(clean)
}

// NormalizeActor maps empty and system-originated values to SystemActor
func NormalizeActor(raw string) string {
	clean := collapse(raw)
	if _, ok := systemActors[fold(clean)]; ok {
		return SystemActor
	}
	if strings.HasPrefix(fold(clean), "system:") {
		return SystemActor
	}
	return clean
}

// NormalizeEntry returns a copy of e with canonical reason and actor
func NormalizeEntry(e models.MovementLogEntry) models.MovementLogEntry {
	e.Reason = NormalizeReason(e.Reason)
	e.Actor = NormalizeActor(e.Actor)
	return e
}

// NormalizeEntries applies NormalizeEntry to every entry
func NormalizeEntries(entries []models.MovementLogEntry) []models.MovementLogEntry {
	out := make([]models.MovementLogEntry, len(entries))
	for i := range entries {
		out[i] = NormalizeEntry(entries[i])
	}
	return out
}

func reasonForStage(st pipeline.Stage) string {
	if st == pipeline.StageRemoved {
		return ReasonRemoved
	}
	return MovedTo(st)
}

func collapse(raw string) string {
	return strings.Join(strings.Fields(norm.NFC.String(raw)), " ")
}

// fold builds a Caser per call since Casers are not safe for concurrent use
func fold(s string) string {
	return cases.Fold().String(s)
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
