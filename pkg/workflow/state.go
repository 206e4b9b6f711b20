package workflow

import (
	"strconv"
	"strings"
	"time"

	"shortlist/pkg/requirements"
	"shortlist/pkg/table"
)

// Trigger explains why a refinement loop started.
type Trigger string

// Refinement triggers.
const (
	TriggerUserRequest      Trigger = "user_request"
	TriggerInsufficientData Trigger = "insufficient_data"
	TriggerNewRequirements  Trigger = "new_requirements"
	TriggerFieldAddition    Trigger = "field_addition"
	TriggerCorrection       Trigger = "correction"
)

// RefinementEntry records one loop back from advice into research or intake.
type RefinementEntry struct {
	Loop    int       `json:"loop"`
	Trigger Trigger   `json:"trigger"`
	Phrase  string    `json:"phrase"`
	Changes string    `json:"changes"`
	At      time.Time `json:"at"`
}

// String renders the entry for prompts.
func (r RefinementEntry) String() string {
	return "Loop " + strconv.Itoa(r.Loop) + " (" + string(r.Trigger) + "): " + r.Changes
}

// Role is the speaker of a transcript turn.
type Role string

// Transcript roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one transcript entry.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// StagedIntent is a refinement waiting on the intent checkpoint.
type StagedIntent struct {
	Intent   Intent   `json:"intent"`
	Fields   []string `json:"fields,omitempty"`
	Products []string `json:"products,omitempty"`
	Count    int      `json:"count,omitempty"`
	Phrase   string   `json:"phrase"`
}

// SessionState is the versioned state of one conversation. It is passed by value;
// handlers describe changes as an Update and Apply produces the next version.
type SessionState struct {
	ID           string                    `json:"id"`
	Version      int                       `json:"version"`
	Phase        Phase                     `json:"phase"`
	Requirements requirements.Requirements `json:"requirements"`
	Table        *table.Table              `json:"table"`
	Refinements  []RefinementEntry         `json:"refinements,omitempty"`

	NeedNewSearch   bool     `json:"need_new_search,omitempty"`
	RequestedFields []string `json:"requested_fields,omitempty"`
	// SearchTarget asks for this many additional candidates for an existing table. Zero
	// means a full search that also proposes fields.
	SearchTarget int    `json:"search_target,omitempty"`
	ErrorContext string `json:"error_context,omitempty"`
	Rescope      bool   `json:"rescope,omitempty"`

	Checkpoint         *Checkpoint             `json:"checkpoint,omitempty"`
	StagedFields       []table.FieldDefinition `json:"staged_fields,omitempty"`
	StagedIntent       *StagedIntent           `json:"staged_intent,omitempty"`
	AwaitingFieldEdits bool                    `json:"awaiting_field_edits,omitempty"`

	Transcript []Turn    `json:"transcript,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewSession returns the initial state for id.
func NewSession(id string, now time.Time) SessionState {
	return SessionState{
		ID:        id,
		Table:     table.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy, so stores never share a table with a caller.
func (s SessionState) Clone() SessionState {
	out := s
	out.Requirements = s.Requirements.Clone()
	if s.Table != nil {
		out.Table = s.Table.Clone()
	}
	out.Refinements = append([]RefinementEntry(nil), s.Refinements...)
	out.RequestedFields = append([]string(nil), s.RequestedFields...)
	out.StagedFields = append([]table.FieldDefinition(nil), s.StagedFields...)
	out.Transcript = append([]Turn(nil), s.Transcript...)
	if s.Checkpoint != nil {
		cp := *s.Checkpoint
		cp.Choices = append([]Choice(nil), s.Checkpoint.Choices...)
		out.Checkpoint = &cp
	}
	if s.StagedIntent != nil {
		si := *s.StagedIntent
		si.Fields = append([]string(nil), s.StagedIntent.Fields...)
		si.Products = append([]string(nil), s.StagedIntent.Products...)
		out.StagedIntent = &si
	}
	return out
}

// LastUserText returns the most recent user message.
func (s SessionState) LastUserText() string {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == RoleUser {
			return s.Transcript[i].Content
		}
	}
	return ""
}

// RecentTurns renders the transcript as "role: content" lines, oldest first.
func (s SessionState) RecentTurns() []string {
	out := make([]string, len(s.Transcript))
	for i, t := range s.Transcript {
		out[i] = string(t.Role) + ": " + t.Content
	}
	return out
}

func (s SessionState) withTurn(role Role, content string, now time.Time) SessionState {
	content = strings.TrimSpace(content)
	if content == "" {
		return s
	}
	transcript := make([]Turn, len(s.Transcript), len(s.Transcript)+1)
	copy(transcript, s.Transcript)
	s.Transcript = append(transcript, Turn{Role: role, Content: content, At: now})
	return s
}

// Opt is an optional assignment in an Update. The zero value leaves the field alone.
type Opt[T any] struct {
	Value T
	Set   bool
}

// Some assigns v.
func Some[T any](v T) Opt[T] {
	return Opt[T]{Value: v, Set: true}
}

func (o Opt[T]) apply(dst *T) {
	if o.Set {
		*dst = o.Value
	}
}

// Update is the change a handler wants to make to the session.
type Update struct {
	Phase        Opt[Phase]
	Requirements Opt[requirements.Requirements]
	Table        Opt[*table.Table]
	Refinement   *RefinementEntry

	NeedNewSearch   Opt[bool]
	RequestedFields Opt[[]string]
	SearchTarget    Opt[int]
	ErrorContext    Opt[string]
	Rescope         Opt[bool]

	Checkpoint         Opt[*Checkpoint]
	StagedFields       Opt[[]table.FieldDefinition]
	StagedIntent       Opt[*StagedIntent]
	AwaitingFieldEdits Opt[bool]
}

// Outcome is a handler's result: the state change, what to tell the user, and whether
// the orchestrator should continue automatically with the next phase.
type Outcome struct {
	Update   Update
	Message  string
	Continue bool
	// ExportCSV carries an export requested in this turn.
	ExportCSV string
}

// Apply returns the next version of s with u applied. A phase change the state machine
// does not allow is rejected with ErrInvalidTransition and s is unchanged.
func (s SessionState) Apply(u Update, now time.Time) (SessionState, error) {
	if u.Phase.Set && !IsValidTransition(s.Phase, u.Phase.Value) {
		return s, transitionError(s.Phase, u.Phase.Value)
	}

	next := s
	u.Phase.apply(&next.Phase)
	u.Requirements.apply(&next.Requirements)
	u.Table.apply(&next.Table)
	u.NeedNewSearch.apply(&next.NeedNewSearch)
	u.RequestedFields.apply(&next.RequestedFields)
	u.SearchTarget.apply(&next.SearchTarget)
	u.ErrorContext.apply(&next.ErrorContext)
	u.Rescope.apply(&next.Rescope)
	u.Checkpoint.apply(&next.Checkpoint)
	u.StagedFields.apply(&next.StagedFields)
	u.StagedIntent.apply(&next.StagedIntent)
	u.AwaitingFieldEdits.apply(&next.AwaitingFieldEdits)

	if u.Refinement != nil {
		entry := *u.Refinement
		entry.Loop = len(s.Refinements) + 1
		if entry.At.IsZero() {
			entry.At = now
		}
		refinements := make([]RefinementEntry, len(s.Refinements), len(s.Refinements)+1)
		copy(refinements, s.Refinements)
		next.Refinements = append(refinements, entry)
	}
	if next.Table == nil {
		next.Table = table.New()
	}

	next.Version = s.Version + 1
	next.UpdatedAt = now
	return next, nil
}

// Progress is the enrichment progress of the session's table.
type Progress struct {
	Enriched int `json:"enriched"`
	Total    int `json:"total"`
}
