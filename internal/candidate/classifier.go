package candidate

import (
	"fmt"
	"math"
)

const (
	defaultChatThreshold = 6
	defaultSeekThreshold = 8
)

// Thresholds are the operator configured cut points for Classify.
// Scores are compared inclusively: a score equal to a cut point reaches it.
type Thresholds struct {
	// WaitingList enables the WAITING_LIST band below Chat when positive.
	WaitingList float64 `mapstructure:"waiting-list" json:"waiting_list,omitempty" yaml:"waiting_list,omitempty"`
	Chat        float64 `mapstructure:"chat" json:"chat" yaml:"chat"`
	Seek        float64 `mapstructure:"seek" json:"seek" yaml:"seek"`
}

// DefaultThresholds returns the policy for a 0-10 overall score.
func DefaultThresholds() Thresholds {
	return Thresholds{Chat: defaultChatThreshold, Seek: defaultSeekThreshold}
}

func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{"waiting-list": t.WaitingList, "chat": t.Chat, "seek": t.Seek} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("threshold %s must be a finite number", name)
		}
	}
	if t.WaitingList < 0 {
		return fmt.Errorf("waiting-list threshold must not be negative, got %v", t.WaitingList)
	}
	if t.WaitingList > t.Chat {
		return fmt.Errorf("waiting-list threshold (%v) must not exceed chat threshold (%v)", t.WaitingList, t.Chat)
	}
	if t.Chat > t.Seek {
		return fmt.Errorf("chat threshold (%v) must not exceed seek threshold (%v)", t.Chat, t.Seek)
	}
	return nil
}

// Classify maps the latest analysis to a stage. Captured contact details
// always win. A missing or non-numeric overall score classifies as PASS.
func Classify(analysis *Analysis, contactCaptured bool, t Thresholds) Stage {
	if contactCaptured {
		return StageContact
	}

	if analysis == nil || analysis.Overall == nil || math.IsNaN(*analysis.Overall) {
		return StagePass
	}

	overall := *analysis.Overall
	switch {
	case overall >= t.Seek:
		return StageSeek
	case overall >= t.Chat:
		return StageChat
	case t.WaitingList > 0 && overall >= t.WaitingList:
		return StageWaitingList
	default:
		return StagePass
	}
}
