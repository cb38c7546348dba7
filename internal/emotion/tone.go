package emotion

import "math"

// Voice tone bounds. Speed and pitch follow the provider convention where a
// negative value means faster or higher.
const (
	MinSpeed = -1
	MaxSpeed = 1
	MinPitch = -2
	MaxPitch = 2

	MinEmotionStrength = 0
	MaxEmotionStrength = 2

	stepThreshold       = 50
	weakStrengthLimit   = 33
	mediumStrengthLimit = 66
)

// Emotion codes understood by the speech provider.
const (
	CodeNeutral = 0
	CodeSad     = 1
	CodeAngry   = 3
)

// VoiceTone is the bounded parameter set sent to the speech provider.
// Field order is the canonical order used for cache key derivation.
type VoiceTone struct {
	Volume          int `json:"volume"`
	Speed           int `json:"speed"`
	Pitch           int `json:"pitch"`
	Alpha           int `json:"alpha"`
	EmotionCode     int `json:"emotion"`
	EmotionStrength int `json:"emotionStrength"`
}

// NeutralTone is the tone used when no emotion applies.
var NeutralTone = VoiceTone{}

// InRange reports whether every field lies within its closed range.
func (t VoiceTone) InRange() bool {
	validCode := t.EmotionCode == CodeNeutral || t.EmotionCode == CodeSad || t.EmotionCode == CodeAngry

	return t.Volume == 0 && t.Alpha == 0 &&
		t.Speed >= MinSpeed && t.Speed <= MaxSpeed &&
		t.Pitch >= MinPitch && t.Pitch <= MaxPitch &&
		validCode &&
		t.EmotionStrength >= MinEmotionStrength && t.EmotionStrength <= MaxEmotionStrength
}

type contribution func(percentage int) int

// toneRule is the per-label contribution to a tone.
type toneRule struct {
	speed contribution
	pitch contribution
	code  int
	mild  bool // softens the emotion strength by one step
}

// linear scales 0..100 to 0..maxDelta, rounded half away from zero.
func linear(maxDelta int) contribution {
	return func(percentage int) int {
		return int(math.Round(float64(maxDelta*percentage) / MaxPercentage))
	}
}

// step contributes delta once the percentage reaches the threshold.
func step(delta, threshold int) contribution {
	return func(percentage int) int {
		if percentage >= threshold {
			return delta
		}

		return 0
	}
}

func none(int) int { return 0 }

var toneRules = map[Type]toneRule{
	Joy:           {speed: step(-1, stepThreshold), pitch: linear(-2), code: CodeNeutral},
	Embarrassment: {speed: linear(-1), pitch: none, code: CodeNeutral},
	Anger:         {speed: linear(-1), pitch: linear(-1), code: CodeAngry},
	Anxiety:       {speed: step(-1, stepThreshold), pitch: none, code: CodeNeutral},
	Hurt:          {speed: none, pitch: linear(1), code: CodeSad, mild: true},
	Sadness:       {speed: linear(1), pitch: linear(2), code: CodeSad},
}

// Synthesize derives one VoiceTone from an unordered set of selections.
//
// Speed and pitch contributions are summed across all selections and then
// clamped. The emotion code comes from the highest-percentage selection whose
// label carries a non-neutral code; equal percentages go to the label declared
// first, so the result does not depend on input order. Zero-percentage
// selections never pick a code, and unknown labels are ignored.
func Synthesize(selections []Selection) VoiceTone {
	if len(selections) == 0 {
		return NeutralTone
	}

	var (
		speed, pitch int
		chosen       *Selection
	)

	for index := range selections {
		selection := Selection{
			Type:       selections[index].Type,
			Percentage: ClampPercentage(selections[index].Percentage),
		}

		rule, ok := toneRules[selection.Type]
		if !ok {
			continue
		}

		speed += rule.speed(selection.Percentage)
		pitch += rule.pitch(selection.Percentage)

		if rule.code == CodeNeutral || selection.Percentage == 0 {
			continue
		}

		if chosen == nil || outranks(selection, *chosen) {
			candidate := selection
			chosen = &candidate
		}
	}

	tone := VoiceTone{
		Volume: 0,
		Speed:  clamp(speed, MinSpeed, MaxSpeed),
		Pitch:  clamp(pitch, MinPitch, MaxPitch),
		Alpha:  0,
	}

	if chosen != nil {
		rule := toneRules[chosen.Type]
		tone.EmotionCode = rule.code
		tone.EmotionStrength = strength(chosen.Percentage, rule.mild)
	}

	return tone
}

// outranks orders candidates by percentage, then by declared label order.
func outranks(candidate, current Selection) bool {
	if candidate.Percentage != current.Percentage {
		return candidate.Percentage > current.Percentage
	}

	return candidate.Type < current.Type
}

func strength(percentage int, mild bool) int {
	var level int

	switch {
	case percentage <= weakStrengthLimit:
		level = 0
	case percentage <= mediumStrengthLimit:
		level = 1
	default:
		level = MaxEmotionStrength
	}

	if mild {
		level--
	}

	return clamp(level, MinEmotionStrength, MaxEmotionStrength)
}

func clamp(value, low, high int) int {
	return max(low, min(value, high))
}
