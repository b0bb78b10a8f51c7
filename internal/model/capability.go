package model

import "strings"

// Capability is the effective permission level a user holds on a project.
type Capability string

const (
	CapabilityNone  Capability = "none"
	CapabilityView  Capability = "view"
	CapabilityEdit  Capability = "edit"
	CapabilityAdmin Capability = "admin"
)

// capabilityLevel maps capabilities to their hierarchy level (higher = more permissions).
var capabilityLevel = map[Capability]int{
	CapabilityNone:  0,
	CapabilityView:  10,
	CapabilityEdit:  20,
	CapabilityAdmin: 30,
}

// Level returns the hierarchy level of the capability.
func (c Capability) Level() int {
	return capabilityLevel[c]
}

// IsAtLeast checks if this capability is at least as strong as another.
func (c Capability) IsAtLeast(other Capability) bool {
	return c.Level() >= other.Level()
}

// IsGrantable reports whether the capability can be stored on a Share,
// Invitation or ShareLink. Grants never carry none.
func (c Capability) IsGrantable() bool {
	switch c {
	case CapabilityView, CapabilityEdit, CapabilityAdmin:
		return true
	default:
		return false
	}
}

// ParseCapability parses a grantable capability, case-insensitively.
func ParseCapability(s string) (Capability, bool) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsGrantable() {
		return CapabilityNone, false
	}
	return c, true
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
