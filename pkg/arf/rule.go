package arf

import (
	"bytes"
	"fmt"
	"strings"
)

// HashSize is the length of a certificate hash (SHA-1).
const HashSize = 20

// Applet is the target of a rule: one AID, or every applet.
type Applet struct {
	All bool
	AID []byte
}

// AllApplets returns the applet that matches any AID.
func AllApplets() Applet {
	return Applet{All: true}
}

// AppletAID returns the applet naming a single AID.
func AppletAID(aid []byte) Applet {
	return Applet{AID: aid}
}

// Is reports whether a names exactly aid. The all sentinel never equals an AID.
func (a Applet) Is(aid []byte) bool {
	return !a.All && bytes.Equal(a.AID, aid)
}

func (a Applet) String() string {
	if a.All {
		return "all"
	}
	return fmt.Sprintf("%X", a.AID)
}

// ApplicationKind tells how a rule names the device applications it covers.
type ApplicationKind int

const (
	// Hashes lists the certificate hashes of the covered applications.
	Hashes ApplicationKind = iota
	AllowedAll
	DeniedAll
)

// Application is the device-side part of a rule.
type Application struct {
	Kind   ApplicationKind
	Hashes [][]byte
}

// Contains reports whether a is a hash set holding hash.
func (a Application) Contains(hash []byte) bool {
	if a.Kind != Hashes {
		return false
	}
	for _, h := range a.Hashes {
		if bytes.Equal(h, hash) {
			return true
		}
	}
	return false
}

func (a Application) String() string {
	switch a.Kind {
	case AllowedAll:
		return "allowed-all"
	case DeniedAll:
		return "denied-all"
	}
	parts := make([]string, len(a.Hashes))
	for i, h := range a.Hashes {
		parts[i] = fmt.Sprintf("%X", h)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Rule grants or denies the applications it names access to an applet.
type Rule struct {
	Applet      Applet
	Application Application
}

func (r Rule) String() string {
	return fmt.Sprintf("applet=%s application=%s", r.Applet, r.Application)
}

// RuleSet is the policy read from the card, in card order.
type RuleSet struct {
	Rules      []Rule
	RefreshTag []byte
}

// IsEmpty reports whether the set holds no rule.
func (s RuleSet) IsEmpty() bool {
	return len(s.Rules) == 0
}

func (s RuleSet) clone() RuleSet {
	return RuleSet{
		Rules:      append([]Rule(nil), s.Rules...),
		RefreshTag: append([]byte(nil), s.RefreshTag...),
	}
}
