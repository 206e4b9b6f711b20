package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"shortlist/pkg/explorer"
	"shortlist/pkg/llm"
	"shortlist/pkg/templates"
)

// Intent is what the user wants after seeing advice.
type Intent string

// Intents.
const (
	IntentSatisfied           Intent = "satisfied"
	IntentMoreOptions         Intent = "more_options"
	IntentNewFields           Intent = "new_fields"
	IntentRequirementsChanged Intent = "requirements_changed"
	IntentRecheck             Intent = "recheck"
	IntentExport              Intent = "export"
	IntentFollowUp            Intent = "follow_up"
	IntentUnclear             Intent = "unclear"
)

func parseIntent(s string) (Intent, bool) {
	i := Intent(strings.ToLower(strings.TrimSpace(s)))
	switch i {
	case IntentSatisfied, IntentMoreOptions, IntentNewFields, IntentRequirementsChanged,
		IntentRecheck, IntentExport, IntentFollowUp, IntentUnclear:
		return i, true
	}
	return "", false
}

// Classification is a classified user message.
type Classification struct {
	Intent   Intent
	Fields   []string
	Products []string
	// Count is how many more options were asked for; zero means the configured default.
	Count    int
	Reason   string
	// Fallback is true when keyword rules decided.
	Fallback bool
}

type intentResponse struct {
	Intent   string   `json:"intent"`
	Fields   []string `json:"fields"`
	Products []string `json:"products"`
	Count    int      `json:"count"`
	Reason   string   `json:"reason"`
}

// classifyIntent asks the LLM and falls back to keyword rules when the call fails or the
// answer is not a known intent.
func (h *AdviseHandler) classifyIntent(ctx context.Context, s SessionState, message string) Classification {
	prompt, err := h.renderer.Render(templates.IntentTemplate, templates.IntentData{
		Summary:  s.Requirements.Summary(),
		Message:  message,
		Fields:   s.Table.FieldNames(true),
		Products: productNames(s),
		Recent:   h.recent(s),
	})
	if err == nil {
		var resp intentResponse
		if err = llm.CompleteJSON(ctx, h.llm, llm.Prompt("", prompt), &resp); err == nil {
			if intent, ok := parseIntent(resp.Intent); ok {
				c := Classification{Intent: intent, Products: resp.Products, Reason: resp.Reason}
				if intent == IntentMoreOptions {
					c.Count = max(resp.Count, 0)
				}
				for _, f := range resp.Fields {
					if name := explorer.SnakeCase(f); name != "" {
						c.Fields = append(c.Fields, name)
					}
				}
				if c.Intent == IntentNewFields && len(c.Fields) == 0 {
					c.Fields = requestedFieldNames(message)
				}
				return c
			}
			err = fmt.Errorf("unknown intent %q", resp.Intent)
		}
	}
	h.logger.Warn("⚠️  Intent classification fell back to keywords: %v", err)
	c := KeywordIntent(message)
	c.Fallback = true
	return c
}

//nolint:gochecknoglobals // keyword tables
var (
	exportWords    = []string{"export", "csv", "download", "spreadsheet", "save the table"}
	satisfiedWords = []string{"thanks", "thank you", "perfect", "i'll take", "i will take", "i'll go with", "i will go with", "that's all", "that's it", "bye", "all set"}
	moreWords      = []string{"more options", "more products", "other options", "show me more", "more choices", "alternatives", "different brands", "anything else", "more like", "find more", "similar ones", "similar products"}
	recheckWords   = []string{"recheck", "re-check", "double check", "double-check", "wrong", "incorrect", "not right", "try again", "retry", "verify"}
	changeWords    = []string{"budget", "changed my mind", "instead", "actually i want", "actually i need", "rather have", "different product", "switch to", "no longer"}
	questionStarts = []string{"which", "what", "how", "why", "does", "do ", "is ", "are ", "can ", "could", "should", "would", "compare", "tell me"}

	moreCountPattern = regexp.MustCompile(`\b(\d{1,3})\s+(?:more|other|additional|extra)\b`)
	sentenceBreak    = regexp.MustCompile(`[.!?;]+\s*`)

	addFieldPattern = regexp.MustCompile(`(?i)\b(?:add|include|compare(?: them)? on|show)\s+(.+?)(?:\s+(?:to|in|into)\s+the\s+(?:comparison|table)|\s+column[s]?|\s+field[s]?|$)`)
)

// KeywordIntent classifies message with fixed keyword rules.
func KeywordIntent(message string) Classification {
	lower := strings.ToLower(strings.TrimSpace(message))
	has := func(words []string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}

	switch {
	case lower == "":
		return Classification{Intent: IntentUnclear}
	case has(exportWords):
		return Classification{Intent: IntentExport}
	case has(moreWords), moreCountPattern.MatchString(lower):
		return Classification{Intent: IntentMoreOptions, Count: requestedCount(lower)}
	case isFieldRequest(lower):
		return Classification{Intent: IntentNewFields, Fields: requestedFieldNames(message)}
	case has(recheckWords):
		return Classification{Intent: IntentRecheck}
	case has(changeWords):
		return Classification{Intent: IntentRequirementsChanged}
	case isQuestion(lower):
		// A question ends nothing, even when it also says thanks.
		return Classification{Intent: IntentFollowUp}
	case has(satisfiedWords):
		return Classification{Intent: IntentSatisfied}
	}
	return Classification{Intent: IntentUnclear}
}

// isQuestion reports a trailing question mark or any sentence opening with a question
// word, as in "thanks! which one is quietest".
func isQuestion(lower string) bool {
	if strings.HasSuffix(lower, "?") {
		return true
	}
	for _, sentence := range sentenceBreak.Split(lower, -1) {
		sentence = strings.TrimSpace(sentence)
		for _, q := range questionStarts {
			if strings.HasPrefix(sentence, q) {
				return true
			}
		}
	}
	return false
}

// requestedCount reads "find 10 more like these" as 10, or 0 when no number is given.
func requestedCount(lower string) int {
	m := moreCountPattern.FindStringSubmatch(lower)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func isFieldRequest(lower string) bool {
	if !addFieldPattern.MatchString(lower) {
		return false
	}
	return strings.HasPrefix(lower, "add ") || strings.HasPrefix(lower, "include ") ||
		strings.Contains(lower, "comparison") || strings.Contains(lower, "column") || strings.Contains(lower, "field")
}

// requestedFieldNames pulls column names out of "add energy efficiency and warranty to
// the comparison".
func requestedFieldNames(message string) []string {
	m := addFieldPattern.FindStringSubmatch(strings.TrimSpace(message))
	if m == nil {
		return nil
	}
	var out []string
	for _, part := range splitList(m[1]) {
		if name := explorer.SnakeCase(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// splitList splits "a, b and c" into its items.
func splitList(s string) []string {
	s = strings.NewReplacer(" and ", ",", " & ", ",", ";", ",").Replace(s)
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(part, "the ")
		part = strings.TrimPrefix(part, "a ")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func productNames(s SessionState) []string {
	rows := s.Table.Rows()
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Candidate.Name
	}
	return names
}
