package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseTenantID checks that parsing never panics on arbitrary input and
// that accepted values round-trip unchanged.
func FuzzParseTenantID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE workflow_entities;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseTenantID(input)
		if err == nil {
			roundTrip, err2 := ParseTenantID(id.String())
			if err2 != nil {
				t.Errorf("valid ID failed round-trip: %v", err2)
			}
			if roundTrip != id {
				t.Error("round-trip changed ID value")
			}
		}
		if !utf8.ValidString(input) && err == nil {
			t.Error("non-UTF8 input was accepted")
		}
	})
}

// FuzzParseAllIDs checks that every ID type validates the same way; divergent
// validation between tenant and principal parsing would be a scoping hole.
func FuzzParseAllIDs(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("")
	f.Add("invalid")

	f.Fuzz(func(t *testing.T, input string) {
		_, errTenant := ParseTenantID(input)
		_, errPrincipal := ParsePrincipalID(input)
		_, errEntity := ParseEntityID(input)

		if (errTenant == nil) != (errPrincipal == nil) || (errTenant == nil) != (errEntity == nil) {
			t.Errorf("inconsistent validation: tenant=%v principal=%v entity=%v",
				errTenant, errPrincipal, errEntity)
		}
	})
}
