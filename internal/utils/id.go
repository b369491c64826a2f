package utils

import "github.com/google/uuid"

func NewID() string { return uuid.NewString() }

// ValidID reports whether s is a canonical uuid, as produced by NewID.
func ValidID(s string) bool {
	u, err := uuid.Parse(s)
	return err == nil && u.String() == s
}
