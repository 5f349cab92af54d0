package domain

import (
	"errors"
	"strings"
	"time"
)

// DataFile is a stored file attached to a dataset version. VersionID may be
// empty while an upload has completed but has not been attached to a version
// yet (uploads race version creation).
type DataFile struct {
	ID              string
	VersionID       string
	Name            string
	SizeBytes       int64
	Extension       string
	Format          string
	StorageBucket   string
	StoragePath     string
	StorageFileName string
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (f DataFile) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return errors.New("data file id is required")
	}
	if strings.TrimSpace(f.Name) == "" {
		return errors.New("data file name is required")
	}
	if f.SizeBytes < 0 {
		return errors.New("data file size must be >= 0")
	}
	return nil
}

// ObjectKey returns the object-store key for the file, joining storage path
// and stored file name.
func (f DataFile) ObjectKey() string {
	path := strings.Trim(strings.TrimSpace(f.StoragePath), "/")
	name := strings.TrimSpace(f.StorageFileName)
	if path == "" {
		return name
	}
	return path + "/" + name
}
