package tutor

import "time"

// Config holds the timing policy of a session.
type Config struct {
	MaxDuration           time.Duration
	RestartWindow         time.Duration
	BroadcastInterval     time.Duration
	ElapsedTick           time.Duration
	ResumeDelay           time.Duration
	TopicSelectionDisplay time.Duration
	WarnFar               time.Duration
	WarnNear              time.Duration
	WarnImminent          time.Duration
	SubmitTimeout         time.Duration
	LessonPlanTimeout     time.Duration

	Voice              string
	TranscriptionModel string
}

// DefaultConfig returns the standard session timing.
func DefaultConfig() Config {
	return Config{
		MaxDuration:           35 * time.Minute,
		RestartWindow:         5 * time.Minute,
		BroadcastInterval:     2 * time.Minute,
		ElapsedTick:           time.Second,
		ResumeDelay:           500 * time.Millisecond,
		TopicSelectionDisplay: 4 * time.Second,
		WarnFar:               10 * time.Minute,
		WarnNear:              5 * time.Minute,
		WarnImminent:          2 * time.Minute,
		SubmitTimeout:         30 * time.Second,
		LessonPlanTimeout:     60 * time.Second,
		TranscriptionModel:    "whisper-1",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxDuration <= 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.RestartWindow <= 0 {
		c.RestartWindow = d.RestartWindow
	}
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = d.BroadcastInterval
	}
	if c.ElapsedTick <= 0 {
		c.ElapsedTick = d.ElapsedTick
	}
	if c.ResumeDelay <= 0 {
		c.ResumeDelay = d.ResumeDelay
	}
	if c.TopicSelectionDisplay <= 0 {
		c.TopicSelectionDisplay = d.TopicSelectionDisplay
	}
	if c.WarnFar <= 0 {
		c.WarnFar = d.WarnFar
	}
	if c.WarnNear <= 0 {
		c.WarnNear = d.WarnNear
	}
	if c.WarnImminent <= 0 {
		c.WarnImminent = d.WarnImminent
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = d.SubmitTimeout
	}
	if c.LessonPlanTimeout <= 0 {
		c.LessonPlanTimeout = d.LessonPlanTimeout
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = d.TranscriptionModel
	}
	return c
}
