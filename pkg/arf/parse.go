package arf

import (
	"bytes"
	"fmt"

	"github.com/gregLibert/secure-element/pkg/tlv"
	"github.com/rs/zerolog"
)

// findACMF returns the ACMF path of the single DODF entry carrying ACMainOID.
func findACMF(dodf *tlv.Node, logger zerolog.Logger) ([]byte, error) {
	var matches []*tlv.Node
	for _, entry := range dodf.All(tagDataObject) {
		oid, err := entry.Bytes(tagDataObject, tagSequence, tagOID)
		if err != nil || !bytes.Equal(oid, ACMainOID) {
			continue
		}
		matches = append(matches, entry)
	}

	if len(matches) != 1 {
		logger.Error().Int("matches", len(matches)).Msg("DODF must hold exactly one access control main file")
		return nil, fmt.Errorf("%w: %d ACMF entries in DODF", ErrProtocol, len(matches))
	}

	path, err := matches[0].Bytes(tagDataObject, tagSequence, tagSequence, tagPath)
	if err != nil {
		return nil, fmt.Errorf("%w: DODF entry has no ACMF path: %v", ErrProtocol, err)
	}
	return path, nil
}

// parseApplet reads the applet part of an ACRules entry.
func parseApplet(entry *tlv.Node) (Applet, error) {
	if entry.Has(tagAppletAID) {
		aid, err := entry.Bytes(tagAppletAID, tagPath)
		if err != nil {
			return Applet{}, fmt.Errorf("%w: malformed applet AID: %v", ErrProtocol, err)
		}
		return AppletAID(aid), nil
	}
	if entry.Has(tagAllApplets) {
		return AllApplets(), nil
	}
	return Applet{}, fmt.Errorf("%w: entry names neither an AID nor all applets", ErrProtocol)
}

// parseConditions turns an ACConditions file into the application part of a rule.
//
// A file without content denies every application. A file with content but
// no entry is malformed. A file whose only entry
// carries no hash allows every application. Otherwise each entry must hold
// exactly one certificate hash and nothing else; APDU and NFC filters are
// not supported.
func parseConditions(cond *tlv.Node) (Application, error) {
	entries := cond.All(tagSequence)

	switch {
	case len(entries) == 0 && !cond.IsEmpty():
		return Application{}, fmt.Errorf("%w: condition file has no entries", ErrProtocol)
	case len(entries) == 0:
		return Application{Kind: DeniedAll}, nil
	case len(entries) == 1 && !entries[0].Has(tagPath):
		return Application{Kind: AllowedAll}, nil
	}

	app := Application{Kind: Hashes, Hashes: make([][]byte, 0, len(entries))}
	for i, entry := range entries {
		if entry.IsLeaf() || len(entry.Tags) != 1 {
			return Application{}, fmt.Errorf("%w: condition %d is not a single hash", ErrProtocol, i)
		}
		hash, err := entry.Bytes(tagPath)
		if err != nil {
			return Application{}, fmt.Errorf("%w: condition %d: %v", ErrProtocol, i, err)
		}
		if len(hash) != HashSize {
			return Application{}, fmt.Errorf("%w: condition %d hash is %d bytes, want %d", ErrProtocol, i, len(hash), HashSize)
		}
		app.Hashes = append(app.Hashes, hash)
	}
	return app, nil
}
