package templates

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"shortlist/pkg/tokens"
)

const (
	// AdvisorInstructionsFile holds user instructions appended to advice prompts, e.g.
	// "I shop in the UK and prefer brands with long warranties".
	AdvisorInstructionsFile = "ADVISOR.md"

	// UserInstructionsTokenLimit is the token limit for the instructions file.
	UserInstructionsTokenLimit = 2000
	// UserInstructionsCharLimit is the character limit for the instructions file.
	UserInstructionsCharLimit = 8000
)

// LoadUserInstructions reads dir/ADVISOR.md. A missing file yields "".
func LoadUserInstructions(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	path := filepath.Join(dir, AdvisorInstructionsFile)
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w (please check file permissions)", path, err)
	}

	text := strings.TrimSpace(string(content))
	if len(text) > UserInstructionsCharLimit {
		return "", fmt.Errorf("%s exceeds character limit of %d (current: %d)", AdvisorInstructionsFile, UserInstructionsCharLimit, len(text))
	}
	if n := tokens.Count(text); n > UserInstructionsTokenLimit {
		return "", fmt.Errorf("%s exceeds token limit of %d (current: %d)", AdvisorInstructionsFile, UserInstructionsTokenLimit, n)
	}
	return text, nil
}

// RenderWithUserInstructions renders templateName and appends the instructions found in dir.
func (r *Renderer) RenderWithUserInstructions(templateName StateTemplate, data any, dir string) (string, error) {
	base, err := r.Render(templateName, data)
	if err != nil {
		return "", err
	}
	instructions, err := LoadUserInstructions(dir)
	if err != nil {
		return "", fmt.Errorf("failed to load user instructions: %w", err)
	}
	if instructions == "" {
		return base, nil
	}
	return base + "\n\n## User preferences\n" + instructions, nil
}
