package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DesignState is the draft/published lifecycle stage of a dataset or one of
// its versions.
type DesignState string

const (
	DesignStateDraft     DesignState = "draft"
	DesignStatePublished DesignState = "published"
)

func (s DesignState) Valid() bool {
	switch s {
	case DesignStateDraft, DesignStatePublished:
		return true
	default:
		return false
	}
}

// ParseDesignState normalizes and validates a raw design state value.
func ParseDesignState(raw string) (DesignState, error) {
	s := DesignState(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", BadRequest("invalid_design_state", "design_state")
	}
	return s, nil
}

// Visibility controls whether a dataset is disclosed outside its tenancy.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityPublic:
		return true
	default:
		return false
	}
}

// CollocationStatus tracks the migration of a dataset's files to the
// canonical storage layout. The empty value means the dataset predates the
// tracker and is treated as pending.
type CollocationStatus string

const (
	CollocationPending    CollocationStatus = "pending"
	CollocationProcessing CollocationStatus = "processing"
	CollocationCompleted  CollocationStatus = "completed"
)

func (s CollocationStatus) Valid() bool {
	switch s {
	case CollocationPending, CollocationProcessing, CollocationCompleted:
		return true
	default:
		return false
	}
}

// ParseCollocationStatus normalizes and validates a raw status value.
func ParseCollocationStatus(raw string) (CollocationStatus, error) {
	s := CollocationStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", BadRequest("invalid_file_collocation_status", "status")
	}
	return s, nil
}

// Dataset is the aggregate root: a named, tenancy-owned collection of
// immutable versions. Datasets are never physically deleted; disable flips
// IsEnabled off.
type Dataset struct {
	ID                string
	Name              string
	Data              Metadata
	Tenancy           string
	OwnerID           string
	IsEnabled         bool
	DesignState       DesignState
	Visibility        Visibility
	CollocationStatus CollocationStatus
	Versions          []DatasetVersion
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (d Dataset) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("dataset id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("dataset name is required")
	}
	if strings.TrimSpace(d.Tenancy) == "" {
		return errors.New("dataset tenancy is required")
	}
	if !d.DesignState.Valid() {
		return errors.New("invalid dataset design state")
	}
	if !d.Visibility.Valid() {
		return errors.New("invalid dataset visibility")
	}
	if d.CollocationStatus != "" && !d.CollocationStatus.Valid() {
		return errors.New("invalid file collocation status")
	}
	return nil
}

// DatasetVersion is a single version row. Version names are integer strings
// unique within their dataset and monotonically increasing.
type DatasetVersion struct {
	ID          string
	DatasetID   string
	Name        string
	DesignState DesignState
	IsEnabled   bool
	Files       []DataFile
	DOI         *DOI
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CreatedBy   string
}

func (v DatasetVersion) Validate() error {
	if strings.TrimSpace(v.ID) == "" {
		return errors.New("version id is required")
	}
	if strings.TrimSpace(v.DatasetID) == "" {
		return errors.New("dataset id is required")
	}
	if _, err := strconv.Atoi(strings.TrimSpace(v.Name)); err != nil {
		return fmt.Errorf("version name must be an integer string: %q", v.Name)
	}
	if !v.DesignState.Valid() {
		return errors.New("invalid version design state")
	}
	return nil
}

// FirstVersionName is the name of the bootstrap version created with every
// dataset.
const FirstVersionName = "1"

// NextVersionName returns the successor of the highest version name, or "1"
// when no version exists yet.
func NextVersionName(versions []DatasetVersion) string {
	last := 0
	for _, v := range versions {
		n, err := strconv.Atoi(strings.TrimSpace(v.Name))
		if err != nil {
			continue
		}
		if n > last {
			last = n
		}
	}
	return strconv.Itoa(last + 1)
}

// HasPublishedVersion reports whether any version of the dataset has been
// published. Dataset design state is derived from this.
func HasPublishedVersion(versions []DatasetVersion) bool {
	for _, v := range versions {
		if v.DesignState == DesignStatePublished {
			return true
		}
	}
	return false
}
