package escalation

import (
	"fmt"
	"strings"
)

// DefaultEmergencyNumber is the national ambulance line used when no
// facility-specific number matches the booking address.
const DefaultEmergencyNumber = "1990"

// FacilityNumber is one configured facility-name -> number pair.
type FacilityNumber struct {
	Name   string
	Number string
}

// ParseFacilityNumbers reads "Facility Name=Number,Other Facility=Number"
// preserving the configured order, which is the resolution precedence.
func ParseFacilityNumbers(v string) ([]FacilityNumber, error) {
	var out []FacilityNumber
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, num, ok := strings.Cut(pair, "=")
		name, num = strings.TrimSpace(name), strings.TrimSpace(num)
		if !ok || name == "" || num == "" {
			return nil, fmt.Errorf("invalid facility number entry %q", pair)
		}
		out = append(out, FacilityNumber{Name: name, Number: num})
	}
	return out, nil
}

type facilityNumber struct {
	match  string // lowercased substring to look for in the address
	number string
}

// NumberTable resolves the emergency number to surface for a booking
// location. Matching is a case-insensitive substring test against the
// free-text address; first configured entry wins.
type NumberTable struct {
	entries  []facilityNumber
	fallback string
}

// NewNumberTable builds a table from ordered facility entries. An empty
// fallback gets the national default.
func NewNumberTable(facilities []FacilityNumber, fallback string) *NumberTable {
	if fallback == "" {
		fallback = DefaultEmergencyNumber
	}
	t := &NumberTable{fallback: fallback}
	for _, f := range facilities {
		name := strings.ToLower(strings.TrimSpace(f.Name))
		if name == "" || f.Number == "" {
			continue
		}
		t.entries = append(t.entries, facilityNumber{match: name, number: f.Number})
	}
	return t
}

func (t *NumberTable) Resolve(address string) string {
	addr := strings.ToLower(address)
	for _, e := range t.entries {
		if strings.Contains(addr, e.match) {
			return e.number
		}
	}
	return t.fallback
}
