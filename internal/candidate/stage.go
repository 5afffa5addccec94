package candidate

import (
	"fmt"
	"strings"
)

// Stage is the recruiting pipeline classification of a candidate.
type Stage string

const (
	StagePass        Stage = "PASS"
	StageWaitingList Stage = "WAITING_LIST"
	StageChat        Stage = "CHAT"
	StageSeek        Stage = "SEEK"
	StageContact     Stage = "CONTACT"

	// legacyGreet is how older records name the post-first-contact stage.
	legacyGreet = "GREET"
)

// Stages lists every valid stage ordered by tier.
var Stages = []Stage{StagePass, StageWaitingList, StageChat, StageSeek, StageContact}

// ParseStage converts a persisted or user supplied value into a Stage.
// The legacy GREET label is read as CHAT.
func ParseStage(s string) (Stage, error) {
	value := strings.ToUpper(strings.TrimSpace(s))
	if value == legacyGreet {
		return StageChat, nil
	}

	stage := Stage(value)
	if !stage.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStage, s)
	}

	return stage, nil
}

func (s Stage) Valid() bool {
	switch s {
	case StagePass, StageWaitingList, StageChat, StageSeek, StageContact:
		return true
	default:
		return false
	}
}

// Tier orders stages from least to most advanced. Invalid stages get -1.
func (s Stage) Tier() int {
	switch s {
	case StagePass:
		return 0
	case StageWaitingList:
		return 1
	case StageChat:
		return 2
	case StageSeek:
		return 3
	case StageContact:
		return 4
	default:
		return -1
	}
}

func (s Stage) String() string { return string(s) }

// StageSource tells what justified the current stage of a record.
type StageSource string

const (
	// SourceAnalysis means the stage was classified from the stored analysis.
	SourceAnalysis StageSource = "analysis"
	// SourceDiscard is an explicit discard that forces PASS.
	SourceDiscard StageSource = "discard"
	// SourceContact is an explicit contact capture that forces CONTACT.
	SourceContact StageSource = "contact"
)
