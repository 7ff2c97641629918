package collection

import (
	"fmt"
	"regexp"
	"time"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MaxNameLength bounds collection names; they double as index and directory names.
const MaxNameLength = 64

// Collection is a named namespace of documents and their vector entries.
// Created implicitly on first write, never deleted implicitly.
type Collection struct {
	name      string
	createdAt time.Time
}

// ValidateName checks a collection name: ^[a-zA-Z0-9_-]+$, 1-64 chars, case-sensitive.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("collection name is required")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("collection name too long (max %d)", MaxNameLength)
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("collection name must be alphanumeric with underscores and hyphens")
	}
	return nil
}

// New validates and creates a Collection stamped with the current time.
func New(name string) (Collection, error) {
	if err := ValidateName(name); err != nil {
		return Collection{}, err
	}
	return Collection{name: name, createdAt: time.Now().UTC()}, nil
}

// Reconstruct creates a Collection without validation (storage hydration).
func Reconstruct(name string, createdAt time.Time) Collection {
	return Collection{name: name, createdAt: createdAt}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// CreatedAt returns the creation timestamp.
func (c *Collection) CreatedAt() time.Time { return c.createdAt }
