package channel

import (
	"fmt"
	"strings"
)

const (
	// MaxChannelsPerSession bounds the channels one session may hold.
	MaxChannelsPerSession = 4

	MinAIDLength = 5
	MaxAIDLength = 16
)

// ReaderType is the kind of secure element a session talks to.
type ReaderType int

const (
	UICC ReaderType = iota
	ESE
)

func (t ReaderType) String() string {
	switch t {
	case UICC:
		return "uicc"
	case ESE:
		return "eSE"
	default:
		return fmt.Sprintf("ReaderType(%d)", int(t))
	}
}

// ParseReaderType parses "uicc" or "ese" (any case).
func ParseReaderType(s string) (ReaderType, error) {
	switch strings.ToLower(s) {
	case "uicc":
		return UICC, nil
	case "ese":
		return ESE, nil
	default:
		return 0, fmt.Errorf("unknown reader type %q", s)
	}
}

// Session is the caller's view of an open session.
type Session struct {
	Token    string
	Type     ReaderType
	AppID    string
	Channels []string
}

// Channel is the caller's view of an open logical channel.
type Channel struct {
	Token   string
	Session string
	Type    ReaderType
	AID     []byte

	// Number is the card-assigned logical channel.
	Number uint8

	// SelectResponse is the card's answer to the SELECT of AID, SW included.
	SelectResponse []byte
}

// HashResolver finds the certificate hash of a requesting application.
type HashResolver interface {
	CertificateHash(appID string) ([]byte, error)
}

// Gate decides whether an application may reach an applet.
type Gate interface {
	IsAccessAllowed(hash, aid []byte) (bool, error)
}

// StaticResolver maps application IDs to certificate hashes.
type StaticResolver map[string][]byte

// CertificateHash implements HashResolver.
func (s StaticResolver) CertificateHash(appID string) ([]byte, error) {
	hash, ok := s[appID]
	if !ok {
		return nil, fmt.Errorf("no certificate hash registered for %q", appID)
	}
	return hash, nil
}
