// Package doi validates persistent-identifier records and drives their state
// machine. Manual-mode DOIs are purely local; auto-mode DOIs delegate
// registration to the external registrar gateway.
package doi

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/datagate-labs/datagate-go/internal/domain"
	"github.com/datagate-labs/datagate-go/internal/repo"
	"github.com/google/uuid"
)

// Payload is the registration document sent to the registrar.
type Payload struct {
	Attributes domain.DOIAttributes
}

// Registration is the registrar's answer to a create call. Raw is stored
// verbatim for audit.
type Registration struct {
	Identifier string
	Raw        json.RawMessage
}

// Gateway is the external DOI registrar. Calls are fail-fast, at-most-once;
// any non-success response surfaces as a generic upstream failure.
type Gateway interface {
	Create(ctx context.Context, payload Payload) (Registration, error)
	Update(ctx context.Context, identifier string, payload Payload) (json.RawMessage, error)
	Delete(ctx context.Context, prefix, suffix string) error
	Get(ctx context.Context, prefix, suffix string) (json.RawMessage, error)
}

type Service struct {
	store   repo.Store
	gateway Gateway
}

func New(store repo.Store, gateway Gateway) *Service {
	if store == nil || gateway == nil {
		return nil
	}
	return &Service{store: store, gateway: gateway}
}

// CreateInput carries a new DOI record. Manual mode requires Identifier;
// auto mode forbids it and requires the full attribute set instead.
type CreateInput struct {
	VersionID  string
	Mode       domain.DOIMode
	Identifier string
	Attributes domain.DOIAttributes
}

func (s *Service) Create(ctx context.Context, input CreateInput) (domain.DOI, error) {
	if !input.Mode.Valid() {
		return domain.DOI{}, domain.BadRequest("invalid_doi_mode", "mode")
	}
	if strings.TrimSpace(input.VersionID) == "" {
		return domain.DOI{}, domain.BadRequest("missing_field", "version_id")
	}

	switch input.Mode {
	case domain.DOIModeManual:
		return s.createManual(ctx, input)
	default:
		return s.createAuto(ctx, input)
	}
}

func (s *Service) createManual(ctx context.Context, input CreateInput) (domain.DOI, error) {
	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" {
		return domain.DOI{}, domain.BadRequest("identifier_missing", "identifier")
	}
	prefix, suffix := domain.SplitIdentifier(identifier)
	now := time.Now().UTC()
	record := domain.DOI{
		ID:         uuid.NewString(),
		VersionID:  strings.TrimSpace(input.VersionID),
		Mode:       domain.DOIModeManual,
		State:      domain.DOIStateDraft,
		Identifier: identifier,
		Prefix:     prefix,
		Suffix:     suffix,
		URL:        strings.TrimSpace(input.Attributes.URL),
		Attributes: input.Attributes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.store.WithinTx(ctx, func(tx repo.Store) error {
		return tx.DOIs().Create(ctx, record)
	})
	if err != nil {
		return domain.DOI{}, err
	}
	return record, nil
}

func (s *Service) createAuto(ctx context.Context, input CreateInput) (domain.DOI, error) {
	if strings.TrimSpace(input.Identifier) != "" {
		return domain.DOI{}, domain.BadRequest("identifier_not_empty", "identifier")
	}
	if missing := input.Attributes.MissingFields(); len(missing) > 0 {
		return domain.DOI{}, domain.BadRequest("missing_field", missing...)
	}
	// The supplied event must be legal from draft; this also resolves the
	// state the new record lands in.
	state, err := domain.DOITransition(domain.DOIStateDraft, input.Attributes.Event)
	if err != nil {
		return domain.DOI{}, err
	}

	registration, err := s.gateway.Create(ctx, Payload{Attributes: input.Attributes})
	if err != nil {
		return domain.DOI{}, domain.Upstream("registrar create", err)
	}
	identifier := strings.TrimSpace(registration.Identifier)
	prefix, suffix := domain.SplitIdentifier(identifier)

	now := time.Now().UTC()
	record := domain.DOI{
		ID:               uuid.NewString(),
		VersionID:        strings.TrimSpace(input.VersionID),
		Mode:             domain.DOIModeAuto,
		State:            state,
		Identifier:       identifier,
		Prefix:           prefix,
		Suffix:           suffix,
		URL:              strings.TrimSpace(input.Attributes.URL),
		Attributes:       input.Attributes,
		ProviderResponse: registration.Raw,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = s.store.WithinTx(ctx, func(tx repo.Store) error {
		return tx.DOIs().Create(ctx, record)
	})
	if err != nil {
		return domain.DOI{}, err
	}
	return record, nil
}

// ChangeState moves an auto-mode DOI to a new state. The required event is
// computed from the (current, new) pair via the transition table; manual
// DOIs never change state.
func (s *Service) ChangeState(ctx context.Context, identifier string, rawState string) (domain.DOI, error) {
	newState, err := domain.ParseDOIState(rawState)
	if err != nil {
		return domain.DOI{}, err
	}

	var updated domain.DOI
	err = s.store.WithinTx(ctx, func(tx repo.Store) error {
		record, err := tx.DOIs().GetByIdentifier(ctx, identifier)
		if err != nil {
			return err
		}
		if record.Mode == domain.DOIModeManual {
			return domain.IllegalState("manual_doi_cannot_change_state")
		}
		event, err := domain.DOIEventFor(record.State, newState)
		if err != nil {
			return err
		}

		attributes := record.Attributes
		attributes.Event = event
		raw, err := s.gateway.Update(ctx, record.Identifier, Payload{Attributes: attributes})
		if err != nil {
			return domain.Upstream("registrar update", err)
		}

		record.State = newState
		record.Attributes = attributes
		record.ProviderResponse = raw
		if err := tx.DOIs().Update(ctx, record); err != nil {
			return err
		}
		updated = record
		return nil
	})
	if err != nil {
		return domain.DOI{}, err
	}
	return updated, nil
}

// Delete removes a DOI record. Only draft DOIs can be deleted; auto-mode
// deletion also removes the draft at the registrar.
func (s *Service) Delete(ctx context.Context, identifier string) error {
	return s.store.WithinTx(ctx, func(tx repo.Store) error {
		record, err := tx.DOIs().GetByIdentifier(ctx, identifier)
		if err != nil {
			return err
		}
		if record.State != domain.DOIStateDraft {
			return domain.IllegalState("doi_not_in_draft_state")
		}
		if record.Mode == domain.DOIModeAuto {
			if err := s.gateway.Delete(ctx, record.Prefix, record.Suffix); err != nil {
				return domain.Upstream("registrar delete", err)
			}
		}
		return tx.DOIs().Delete(ctx, record.Identifier)
	})
}

// Fetch returns the DOI for an identifier.
func (s *Service) Fetch(ctx context.Context, identifier string) (domain.DOI, error) {
	return s.store.DOIs().GetByIdentifier(ctx, identifier)
}
