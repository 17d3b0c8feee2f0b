package engine

import (
	"strings"
	"time"

	"safezone/internal/model"
)

const (
	reasonNight = "Late Night"
	reasonArea  = "High Crime Zone"
	soundPrefix = "Sound: "
)

type FusionInput struct {
	Now       time.Time
	AreaScore float64
	Sound     *model.SoundEvent
}

type FusionParams struct {
	NightStartHour    int
	NightEndHour      int
	Location          *time.Location
	AreaRiskThreshold float64
	SoundWindow       time.Duration
}

// Assess maps one sample to a risk level. The first matching rule wins but
// every contributing factor is listed in the reason.
func Assess(in FusionInput, p FusionParams) model.Assessment {
	night := IsNight(in.Now, p)
	highArea := in.AreaScore > p.AreaRiskThreshold
	sound := activeSound(in, p.SoundWindow)

	factors := make([]string, 0, 3)
	if night {
		factors = append(factors, reasonNight)
	}
	if highArea {
		factors = append(factors, reasonArea)
	}
	if sound != nil {
		factors = append(factors, soundPrefix+sound.Label)
	}

	level := model.RiskSafe
	switch {
	case sound != nil:
		level = model.RiskDanger
	case night && highArea:
		level = model.RiskHigh
	case highArea:
		level = model.RiskCaution
	}
	return model.Assessment{Level: level, Reason: strings.Join(factors, ", ")}
}

func IsNight(now time.Time, p FusionParams) bool {
	if p.Location != nil {
		now = now.In(p.Location)
	}
	h := now.Hour()
	if p.NightStartHour > p.NightEndHour {
		return h >= p.NightStartHour || h <= p.NightEndHour
	}
	return h >= p.NightStartHour && h <= p.NightEndHour
}

func activeSound(in FusionInput, window time.Duration) *model.SoundEvent {
	if in.Sound == nil {
		return nil
	}
	if in.Now.Sub(in.Sound.CapturedAt) >= window {
		return nil
	}
	return in.Sound
}
