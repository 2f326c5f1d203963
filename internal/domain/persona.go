package domain

// Persona identifies one of the fixed dialogue personalities.
type Persona string

const (
	// PersonaTree is the conceptual teacher.
	PersonaTree Persona = "tree"
	// PersonaSeed is the practice and drill mentor.
	PersonaSeed Persona = "seed"
	// PersonaSky is the reflective, philosophical guide.
	PersonaSky Persona = "sky"
)

// EmotionalState is a small ordered scale estimated from learner input.
type EmotionalState int

const (
	EmotionNegative EmotionalState = iota
	EmotionNeutral
	EmotionPositive
	EmotionHighlyEngaged
)

var emotionNames = [...]string{"negative", "neutral", "positive", "highly_engaged"}

func (e EmotionalState) String() string {
	if e < EmotionNegative || e > EmotionHighlyEngaged {
		return "unknown"
	}
	return emotionNames[e]
}

// Shift moves the estimate by delta levels, capped at the scale bounds.
func (e EmotionalState) Shift(delta int) EmotionalState {
	next := int(e) + delta
	if next < int(EmotionNegative) {
		next = int(EmotionNegative)
	}
	if next > int(EmotionHighlyEngaged) {
		next = int(EmotionHighlyEngaged)
	}
	return EmotionalState(next)
}

// MarshalText encodes the state by name.
func (e EmotionalState) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText decodes a state name; unknown names decode as neutral.
func (e *EmotionalState) UnmarshalText(b []byte) error {
	for i, name := range emotionNames {
		if name == string(b) {
			*e = EmotionalState(i)
			return nil
		}
	}
	*e = EmotionNeutral
	return nil
}

// Engagement is a coarse estimate derived from utterance length.
type Engagement string

const (
	EngagementLow    Engagement = "low"
	EngagementMedium Engagement = "medium"
	EngagementHigh   Engagement = "high"
)
