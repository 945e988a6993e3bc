package validation

import (
	"strings"
	"testing"
)

func TestValidSubdomain_Valid(t *testing.T) {
	valids := []string{
		"a",
		"ab",
		"pelis",
		"media-2",
		"0x9",
		"a-b-c",
		// 63 chars (start/end alnum)
		"a" + strings.Repeat("b", 61) + "c",
	}
	for _, v := range valids {
		if !ValidSubdomain(v) {
			t.Fatalf("expected valid: %q", v)
		}
	}
}

func TestValidSubdomain_Invalid(t *testing.T) {
	invalids := []string{
		"",            // empty
		"-lead",       // starts with hyphen
		"trail-",      // ends with hyphen
		"con espacio", // space
		"MAYUS",       // uppercase
		"con.punto",   // dot
		"sub/dir",     // path char
		"..",          // traversal
		strings.Repeat("a", 64), // > 63
	}
	for _, v := range invalids {
		if ValidSubdomain(v) {
			t.Fatalf("expected invalid: %q", v)
		}
	}
}
