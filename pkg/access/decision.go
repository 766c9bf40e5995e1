/*
Package access decides whether a device application may talk to a secure element applet.

The decision follows the GlobalPlatform rule priorities. A rule naming the
applet beats a rule covering all applets, and a rule naming the
application's certificate hash beats a rule covering all applications:

	A. one rule for the AID lists the hash                   -> allow
	B. some rule for the AID lists hashes (not this one)     -> deny
	C. one rule for the AID allows or denies everybody       -> its verdict
	D. one rule for all applets lists the hash               -> allow
	E. a rule for all applets allows or denies everybody     -> its verdict
	F. nothing applies                                       -> deny

When several rules match at the same level they are not merged; the level
is skipped instead.
*/
package access

import "github.com/gregLibert/secure-element/pkg/arf"

// IsAccessAllowed applies rules to the application identified by hash
// asking for the applet aid.
func IsAccessAllowed(rules []arf.Rule, hash, aid []byte) bool {
	var forApplet, forAll []arf.Rule
	for _, r := range rules {
		switch {
		case r.Applet.All:
			forAll = append(forAll, r)
		case r.Applet.Is(aid):
			forApplet = append(forApplet, r)
		}
	}

	// A
	if count(forApplet, listing(hash)) == 1 {
		return true
	}

	// B
	if count(forApplet, isHashSet) > 0 {
		return false
	}

	// C
	if r, ok := single(forApplet, isSentinel); ok {
		return r.Application.Kind == arf.AllowedAll
	}

	// D
	if count(forAll, listing(hash)) == 1 {
		return true
	}

	// E
	for _, r := range forAll {
		if isSentinel(r) {
			return r.Application.Kind == arf.AllowedAll
		}
	}

	// F
	return false
}

func listing(hash []byte) func(arf.Rule) bool {
	return func(r arf.Rule) bool {
		return r.Application.Contains(hash)
	}
}

func isHashSet(r arf.Rule) bool {
	return r.Application.Kind == arf.Hashes
}

func isSentinel(r arf.Rule) bool {
	return r.Application.Kind == arf.AllowedAll || r.Application.Kind == arf.DeniedAll
}

func count(rules []arf.Rule, match func(arf.Rule) bool) int {
	n := 0
	for _, r := range rules {
		if match(r) {
			n++
		}
	}
	return n
}

func single(rules []arf.Rule, match func(arf.Rule) bool) (arf.Rule, bool) {
	var found arf.Rule
	n := 0
	for _, r := range rules {
		if match(r) {
			found = r
			n++
		}
	}
	return found, n == 1
}
