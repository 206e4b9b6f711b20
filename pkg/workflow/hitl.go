package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CheckpointKind names a human-in-the-loop pause.
type CheckpointKind string

// Checkpoints.
const (
	CheckpointRequirements CheckpointKind = "requirements"
	CheckpointFields       CheckpointKind = "fields"
	CheckpointIntent       CheckpointKind = "intent"
)

// Choice is an answer to a checkpoint.
type Choice string

// Checkpoint choices.
const (
	ChoiceConfirm      Choice = "confirm"
	ChoiceEdit         Choice = "edit"
	ChoiceEnrichNow    Choice = "enrich-now"
	ChoiceModifyFields Choice = "modify-fields"
	ChoiceProceed      Choice = "proceed"
	ChoiceClarify      Choice = "clarify"
)

// Checkpoint is a pending question the workflow will not get past without an answer.
type Checkpoint struct {
	ID        string         `json:"id"`
	Kind      CheckpointKind `json:"kind"`
	Owner     Phase          `json:"owner"`
	Prompt    string         `json:"prompt"`
	Choices   []Choice       `json:"choices"`
	CreatedAt time.Time      `json:"created_at"`
}

func newCheckpoint(kind CheckpointKind, prompt string, now time.Time) *Checkpoint {
	cp := &Checkpoint{
		ID:        uuid.NewString(),
		Kind:      kind,
		Prompt:    prompt,
		CreatedAt: now,
	}
	switch kind {
	case CheckpointRequirements:
		cp.Owner = PhaseIntake
		cp.Choices = []Choice{ChoiceConfirm, ChoiceEdit}
	case CheckpointFields:
		cp.Owner = PhaseResearch
		cp.Choices = []Choice{ChoiceEnrichNow, ChoiceModifyFields}
	case CheckpointIntent:
		cp.Owner = PhaseAdvise
		cp.Choices = []Choice{ChoiceProceed, ChoiceClarify}
	}
	return cp
}

// Accepts reports whether choice is one of the checkpoint's options.
func (c *Checkpoint) Accepts(choice Choice) bool {
	for _, allowed := range c.Choices {
		if allowed == choice {
			return true
		}
	}
	return false
}

// Matches reports whether a confirmation addresses this checkpoint, by ID or by kind.
func (c *Checkpoint) Matches(conf CheckpointConfirmation) bool {
	id := strings.TrimSpace(conf.ID)
	return id == c.ID || strings.EqualFold(id, string(c.Kind))
}

// ChoicesString renders the options for a prompt, e.g. "confirm / edit".
func (c *Checkpoint) ChoicesString() string {
	parts := make([]string, len(c.Choices))
	for i, ch := range c.Choices {
		parts[i] = string(ch)
	}
	return strings.Join(parts, " / ")
}

// validateConfirmation explains why conf cannot be applied to the pending checkpoint, or
// returns "" when it can.
func validateConfirmation(pending *Checkpoint, conf CheckpointConfirmation) string {
	switch {
	case pending == nil:
		return "There's nothing waiting for a confirmation right now."
	case !pending.Matches(conf):
		return fmt.Sprintf("That confirmation is out of date. I'm currently waiting on the %s checkpoint (%s).",
			pending.Kind, pending.ChoicesString())
	case !pending.Accepts(conf.Choice):
		return fmt.Sprintf("%q isn't an option here. Please choose %s.", conf.Choice, pending.ChoicesString())
	}
	return ""
}
