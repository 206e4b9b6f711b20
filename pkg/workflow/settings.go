package workflow

import (
	"time"

	"shortlist/pkg/config"
)

// Settings tunes the handlers and the orchestrator.
type Settings struct {
	MaxAutoSteps       int
	MaxQuestions       int
	DisplayRows        int
	TopN               int
	ConfirmRefinements bool
	ConfirmFields      bool
	MoreOptionsTarget  int
	MaxInputChars      int
	TranscriptTokens   int
	DefaultCurrency    string
	// InstructionsDir holds an optional ADVISOR.md with standing user preferences.
	InstructionsDir string
	Now             func() time.Time
}

// DefaultSettings mirrors config.Default().
func DefaultSettings() Settings {
	return SettingsFromConfig(func() *config.Config { c := config.Default(); return &c }())
}

// SettingsFromConfig derives settings from the loaded configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	w := cfg.Workflow
	return Settings{
		MaxAutoSteps:       w.MaxAutoSteps,
		MaxQuestions:       w.MaxQuestions,
		DisplayRows:        w.DisplayRows,
		TopN:               w.TopN,
		ConfirmRefinements: w.ConfirmRefinements,
		ConfirmFields:      w.ConfirmFields,
		MoreOptionsTarget:  w.MoreOptionsTarget,
		MaxInputChars:      w.MaxInputChars,
		TranscriptTokens:   w.TranscriptTokens,
		DefaultCurrency:    "£",
		InstructionsDir:    config.StateDirName,
		Now:                time.Now,
	}
}

func (s Settings) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
