package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// DOIMode distinguishes manually registered identifiers from identifiers
// assigned by the external registrar.
type DOIMode string

const (
	DOIModeManual DOIMode = "manual"
	DOIModeAuto   DOIMode = "auto"
)

func (m DOIMode) Valid() bool {
	switch m {
	case DOIModeManual, DOIModeAuto:
		return true
	default:
		return false
	}
}

// DOIState is the registrar-side lifecycle state of a DOI.
type DOIState string

const (
	DOIStateDraft      DOIState = "draft"
	DOIStateRegistered DOIState = "registered"
	DOIStateFindable   DOIState = "findable"
)

func (s DOIState) Valid() bool {
	switch s {
	case DOIStateDraft, DOIStateRegistered, DOIStateFindable:
		return true
	default:
		return false
	}
}

// ParseDOIState normalizes and validates a raw DOI state value.
func ParseDOIState(raw string) (DOIState, error) {
	s := DOIState(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", BadRequest("invalid_doi_state", "state")
	}
	return s, nil
}

// DOIEvent is a registrar event that advances a DOI between states.
type DOIEvent string

const (
	DOIEventRegister DOIEvent = "register"
	DOIEventPublish  DOIEvent = "publish"
	DOIEventHide     DOIEvent = "hide"
)

func (e DOIEvent) Valid() bool {
	switch e {
	case DOIEventRegister, DOIEventPublish, DOIEventHide:
		return true
	default:
		return false
	}
}

// doiTransitions is the single source of truth for legal DOI state changes:
// (current state, event) -> next state.
var doiTransitions = map[DOIState]map[DOIEvent]DOIState{
	DOIStateDraft: {
		DOIEventRegister: DOIStateRegistered,
	},
	DOIStateRegistered: {
		DOIEventPublish: DOIStateFindable,
	},
	DOIStateFindable: {
		DOIEventHide: DOIStateRegistered,
	},
}

// DOITransition resolves the next state for an event applied to the current
// state, or an IllegalState error when the pair is not in the table.
func DOITransition(from DOIState, event DOIEvent) (DOIState, error) {
	if !from.Valid() || !event.Valid() {
		return "", IllegalState("invalid_state_transition")
	}
	next, ok := doiTransitions[from][event]
	if !ok {
		return "", IllegalState("invalid_state_transition")
	}
	return next, nil
}

// DOIEventFor resolves the event required to move from one state to another,
// using the same transition table. An unreachable pair is illegal.
func DOIEventFor(from, to DOIState) (DOIEvent, error) {
	for event, next := range doiTransitions[from] {
		if next == to {
			return event, nil
		}
	}
	return "", IllegalState("invalid_state_transition")
}

// DOIAttributes is the registration payload sent to the registrar for
// auto-mode DOIs, persisted alongside the record.
type DOIAttributes struct {
	Title           string   `json:"title,omitempty"`
	Creators        []string `json:"creators,omitempty"`
	Publisher       string   `json:"publisher,omitempty"`
	PublicationYear int      `json:"publication_year,omitempty"`
	ResourceType    string   `json:"resource_type,omitempty"`
	URL             string   `json:"url,omitempty"`
	Event           DOIEvent `json:"event,omitempty"`
}

// MissingFields lists every required registration field that is absent.
func (a DOIAttributes) MissingFields() []string {
	missing := make([]string, 0, 7)
	if strings.TrimSpace(a.Title) == "" {
		missing = append(missing, "title")
	}
	if len(a.Creators) == 0 {
		missing = append(missing, "creators")
	}
	if strings.TrimSpace(a.Publisher) == "" {
		missing = append(missing, "publisher")
	}
	if a.PublicationYear == 0 {
		missing = append(missing, "publication_year")
	}
	if strings.TrimSpace(a.ResourceType) == "" {
		missing = append(missing, "resource_type")
	}
	if strings.TrimSpace(a.URL) == "" {
		missing = append(missing, "url")
	}
	if a.Event == "" {
		missing = append(missing, "event")
	}
	return missing
}

// DOI is a persistent identifier attached to exactly one dataset version.
// Manual DOIs carry a caller-supplied identifier and never move through the
// state machine; auto DOIs are registered externally and the registrar
// assigns the identifier.
type DOI struct {
	ID               string
	VersionID        string
	Mode             DOIMode
	State            DOIState
	Identifier       string
	Prefix           string
	Suffix           string
	URL              string
	Attributes       DOIAttributes
	ProviderResponse json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (d DOI) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("doi id is required")
	}
	if strings.TrimSpace(d.VersionID) == "" {
		return errors.New("doi version id is required")
	}
	if !d.Mode.Valid() {
		return errors.New("invalid doi mode")
	}
	if !d.State.Valid() {
		return errors.New("invalid doi state")
	}
	return nil
}

// SplitIdentifier splits a registrar identifier such as "10.1234/abc" into
// its prefix and suffix. The suffix may itself contain slashes.
func SplitIdentifier(identifier string) (prefix, suffix string) {
	identifier = strings.TrimSpace(identifier)
	idx := strings.Index(identifier, "/")
	if idx < 0 {
		return identifier, ""
	}
	return identifier[:idx], identifier[idx+1:]
}
