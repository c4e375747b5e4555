package model

import (
	"fmt"
	"time"
)

// Branch is a pharmacy location. Branches are the authentication principals.
type Branch struct {
	ID           string    `json:"id"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// MinPasswordLength is the shortest password a branch may set.
const MinPasswordLength = 8

// ValidatePassword checks a new branch password.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// BranchSet is the configured set of branch ids.
type BranchSet map[string]struct{}

// NewBranchSet builds a set from ids.
func NewBranchSet(ids []string) BranchSet {
	s := make(BranchSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is a configured branch.
func (s BranchSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}
