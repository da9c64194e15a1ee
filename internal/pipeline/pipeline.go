package pipeline

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Stage is a step of the production pipeline
type Stage uint8

// Pipeline stages, in order. Removed is terminal and has no index.
const (
	StageUnknown Stage = iota
	StagePrintingQueue
	StagePrinted
	StageCalendared
	StageSewn
	StagePackaged
	StageTransferred
	StageDepot
	StageRemoved
)

// Initial is the entry stage for new units
const Initial = StagePrintingQueue

var stageNames = [...]string{
	StageUnknown:       "",
	StagePrintingQueue: "Printing-Queue",
	StagePrinted:       "Printed",
	StageCalendared:    "Calendared",
	StageSewn:          "Sewn",
	StagePackaged:      "Packaged",
	StageTransferred:   "Transferred",
	StageDepot:         "Depot",
	StageRemoved:       "Removed",
}

// ordered lists the movable stages in pipeline order
var ordered = []Stage{
	StagePrintingQueue,
	StagePrinted,
	StageCalendared,
	StageSewn,
	StagePackaged,
	StageTransferred,
	StageDepot,
}

// stageAliases maps folded spellings seen in operator input to stages
var stageAliases = map[string]Stage{
	"printingqueue": StagePrintingQueue,
	"queue":         StagePrintingQueue,
	"dastampare":    StagePrintingQueue,
	"instampa":      StagePrintingQueue,
	"printed":       StagePrinted,
	"stampato":      StagePrinted,
	"calendared":    StageCalendared,
	"calandrato":    StageCalendared,
	"sewn":          StageSewn,
	"cucito":        StageSewn,
	"packaged":      StagePackaged,
	"confezionato":  StagePackaged,
	"transferred":   StageTransferred,
	"trasferito":    StageTransferred,
	"depot":         StageDepot,
	"deposito":      StageDepot,
	"removed":       StageRemoved,
	"eliminato":     StageRemoved,
}

// Stages returns the movable stages in pipeline order
func Stages() []Stage {
	out := make([]Stage, len(ordered))
	copy(out, ordered)
	return out
}

// String returns the canonical stage tag
func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// Valid reports whether s is a known tag, Removed included
func (s Stage) Valid() bool {
	return s > StageUnknown && s <= StageRemoved
}

// Movable reports whether s can be the target of a move
func (s Stage) Movable() bool {
	return s.Index() >= 0
}

// Index returns the position of s in the pipeline, or -1 for Removed and unknown tags
func (s Stage) Index() int {
	for i, st := range ordered {
		if st == s {
			return i
		}
	}
	return -1
}

// ParseStage resolves a stage tag, ignoring case, spaces, dashes and underscores
func ParseStage(raw string) (Stage, error) {
	if st, ok := stageAliases[foldTag(raw)]; ok {
		return st, nil
	}
	return StageUnknown, fmt.Errorf("unknown stage %q", raw)
}

// MarshalText implements encoding.TextMarshaler
func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Stage) UnmarshalText(text []byte) error {
	st, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Value implements driver.Valuer
func (s Stage) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", uint8(s))
	}
	return s.String(), nil
}

// Scan implements sql.Scanner
func (s *Stage) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	case nil:
		*s = StageUnknown
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Stage", src)
	}
}

// Direction classifies a transition by pipeline order
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// DirectionOf returns Forward when to sits later in the pipeline than from.
// Removal is terminal and always counts as forward.
func DirectionOf(from, to Stage) Direction {
	if to == StageRemoved {
		return Forward
	}
	if to.Index() > from.Index() {
		return Forward
	}
	return Backward
}

func foldTag(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch r {
		case ' ', '-', '_', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
