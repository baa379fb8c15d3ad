package geometry

import (
	"fmt"
	"math"
)

// Rolloff selects the distance attenuation curve of an instance.
type Rolloff int

const (
	RolloffNone Rolloff = iota
	RolloffLinear
	RolloffLogarithmic
)

func (r Rolloff) String() string {
	switch r {
	case RolloffNone:
		return "none"
	case RolloffLinear:
		return "linear"
	case RolloffLogarithmic:
		return "logarithmic"
	default:
		return fmt.Sprintf("rolloff(%d)", int(r))
	}
}

// ParseRolloff maps a config string to a Rolloff.
func ParseRolloff(s string) (Rolloff, error) {
	switch s {
	case "", "none":
		return RolloffNone, nil
	case "linear":
		return RolloffLinear, nil
	case "log", "logarithmic":
		return RolloffLogarithmic, nil
	}
	return RolloffNone, fmt.Errorf("unknown rolloff %q", s)
}

// Width clamp range and the distance under which no scaling is applied.
const (
	MinWidth          = 1.0
	MaxWidth          = 20.0
	WidthNearDistance = 0.25
)

// RolloffVolume attenuates base by distance. The result never exceeds base
// and never drops below zero.
func RolloffVolume(mode Rolloff, distance, minRolloffDistance, maxDistance, base float64) float64 {
	v := base
	switch mode {
	case RolloffLinear:
		if maxDistance > 0 {
			v = (1 - (distance-minRolloffDistance)/maxDistance) * base
		}
	case RolloffLogarithmic:
		if distance > 0 {
			v = minRolloffDistance * (maxDistance / (distance * distance))
		}
	}

	if v > base {
		v = base
	} else if v < 0 {
		v = 0
	}
	return v
}

// ScaleVolume applies an instance volume scale, capping at 1.
func ScaleVolume(v, scale float64) float64 {
	s := v * scale
	if s > 1 {
		return 1
	}
	if s < 0 {
		return 0
	}
	return s
}

// Width scales the base width by distance past WidthNearDistance and clamps
// to [MinWidth, MaxWidth].
func Width(base, distance float64) float64 {
	w := base
	if distance > WidthNearDistance {
		w = base / distance
	}
	if w < MinWidth || math.IsNaN(w) {
		w = MinWidth
	}
	if w > MaxWidth {
		w = MaxWidth
	}
	return w
}

func (r Rolloff) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Rolloff) UnmarshalText(b []byte) error {
	v, err := ParseRolloff(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
