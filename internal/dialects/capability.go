// Package dialects describes the SQL surface of each supported engine:
// identifier quoting, bind placeholder style, feature capabilities, and the
// datetime conversion vocabulary used to derive calendar dimensions from
// date and datetime columns.
package dialects

import (
	"fmt"
	"strings"
)

// Capability represents a feature a dialect supports.
type Capability string

const (
	// CapabilityKillQuery means in-flight queries can be cancelled
	// through the engine (KILL QUERY, pg_cancel_backend, job cancel).
	CapabilityKillQuery Capability = "KILL_QUERY"

	// CapabilityFullOuterJoin means the engine runs FULL OUTER JOIN
	// natively. Engines without it get the UNION emulation.
	CapabilityFullOuterJoin Capability = "FULL_OUTER_JOIN"

	// CapabilityTypeConversions means the dialect carries a datetime
	// conversion vocabulary for automatic calendar dimensions.
	CapabilityTypeConversions Capability = "TYPE_CONVERSIONS"

	// CapabilityAdHocTables means table configs may load external data
	// files into the datasource at build time.
	CapabilityAdHocTables Capability = "ADHOC_TABLES"
)

// AllCapabilities returns all valid capabilities.
func AllCapabilities() []Capability {
	return []Capability{
		CapabilityKillQuery,
		CapabilityFullOuterJoin,
		CapabilityTypeConversions,
		CapabilityAdHocTables,
	}
}

// IsValid checks if the capability is a known valid capability.
func (c Capability) IsValid() bool {
	for _, valid := range AllCapabilities() {
		if c == valid {
			return true
		}
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability parses a string into a Capability.
func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid capability: %s (valid: %v)", s, AllCapabilities())
	}
	return c, nil
}

// CapabilitySet is a set of capabilities for efficient lookup.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet creates a new CapabilitySet from a slice of capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Has checks if the set contains the given capability.
func (cs CapabilitySet) Has(c Capability) bool {
	_, ok := cs[c]
	return ok
}

// Add adds a capability to the set.
func (cs CapabilitySet) Add(c Capability) {
	cs[c] = struct{}{}
}

// Slice returns the capabilities as a slice.
func (cs CapabilitySet) Slice() []Capability {
	result := make([]Capability, 0, len(cs))
	for c := range cs {
		result = append(result, c)
	}
	return result
}
