package domain

import "strings"

// Identity is the normalized e-mail-like key partitioning region ownership.
type Identity string

// IdentitySlot is the storage slot holding the last-used identity.
const IdentitySlot = "identity"

// NormalizeIdentity trims and lower-cases raw input. Empty or whitespace-only
// input is a ValidationError.
func NormalizeIdentity(raw string) (Identity, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", &ValidationError{Field: "email", Reason: "identity is required"}
	}
	return Identity(s), nil
}

// IsZero reports whether no identity is set.
func (id Identity) IsZero() bool { return id == "" }

func (id Identity) String() string { return string(id) }
