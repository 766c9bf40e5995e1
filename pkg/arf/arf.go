/*
Package arf reads the GlobalPlatform Access Rule Files of a secure element.

The policy lives in the PKCS#15 application as a chain of transparent files:

	ODF ---> DODF ---> ACMF ---> ACRules ---> ACConditions
	         (OID)   (refresh tag)

The ODF points to the DODF. The DODF entry carrying the GlobalPlatform OID
points to the ACMF, whose refresh tag changes whenever the policy changes.
The ACRules file lists one entry per applet and each entry points to a
condition file naming the certificate hashes allowed to use it.

A Reader walks the chain in order and keeps the last rule set. When the
refresh tag has not moved, only the files up to the ACMF are read. Any
failure empties the rule set, so an unreadable policy denies everything.
*/
package arf

import "errors"

var (
	// ErrProtocol marks malformed or unexpected file content and card error statuses.
	ErrProtocol = errors.New("access rule protocol error")
	// ErrCardLink marks failures of the card link itself.
	ErrCardLink = errors.New("card link error")
)

var (
	// PKCS15AID selects the PKCS#15 application holding the rule files.
	PKCS15AID = []byte{0xA0, 0x00, 0x00, 0x00, 0x63, 0x50, 0x4B, 0x43, 0x53, 0x2D, 0x31, 0x35}

	// ACMainOID identifies the DODF entry pointing to the ACMF (1.2.840.114283.200.1.1).
	ACMainOID = []byte{0x2A, 0x86, 0x48, 0x86, 0xFC, 0x6B, 0x81, 0x48, 0x01, 0x01}

	// ODFPath is the file ID of the Object Directory File.
	ODFPath = []byte{0x50, 0x31}
)

// Tags of the simple-TLV structures found in the rule files.
const (
	tagPath       byte = 0x04
	tagOID        byte = 0x06
	tagSequence   byte = 0x30
	tagAppletAID  byte = 0xA0
	tagDataObject byte = 0xA1
	tagAllApplets byte = 0x82
	tagDODF       byte = 0xA7
)
