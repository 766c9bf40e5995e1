package simcard

import (
	"fmt"

	"github.com/gregLibert/secure-element/pkg/tlv"
)

// File paths used by BuildARF, as upper-case hex.
const (
	ODFPath     = "5031"
	DODFPath    = "4300"
	ACMFPath    = "4301"
	ACRulesPath = "4302"
)

var (
	// PKCS15AID is the application holding the access rule files.
	PKCS15AID = tlv.Hex("A000000063504B43532D3135")

	acMainOID = tlv.Hex("2A864886FC6B81480101")
)

// ARFRule is one ACRules entry. A nil AID stands for every applet.
// Condition is the path of the condition file the rule points to.
type ARFRule struct {
	AID       []byte
	Condition string
}

// BuildARF lays out a complete access rule file system. conditions maps
// condition file paths to their raw content.
func BuildARF(refreshTag []byte, rules []ARFRule, conditions map[string][]byte) map[string][]byte {
	files := map[string][]byte{
		ODFPath:  ODF(DODFPath),
		DODFPath: DODF(ACMFPath),
		ACMFPath: ACMF(refreshTag, ACRulesPath),
	}

	acrules := tlv.NewContainer()
	for _, r := range rules {
		entry := tlv.NewContainer()
		if r.AID == nil {
			entry.Add(0x82, tlv.NewLeaf(nil))
		} else {
			entry.Add(0xA0, tlv.NewContainer().Add(0x04, tlv.NewLeaf(r.AID)))
		}
		entry.Add(0x30, pathNode(r.Condition))
		acrules.Add(0x30, entry)
	}
	files[ACRulesPath] = mustEncode(acrules)

	for path, content := range conditions {
		files[path] = content
	}
	return files
}

// ODF returns an Object Directory File pointing to the DODF at path.
func ODF(dodfPath string) []byte {
	return mustEncode(tlv.NewContainer().Add(0xA7, pathNode(dodfPath)))
}

// DODF returns a Data Object Directory File with one entry per ACMF path,
// each carrying the access control OID.
func DODF(acmfPaths ...string) []byte {
	root := tlv.NewContainer()
	for _, path := range acmfPaths {
		root.Add(0xA1, tlv.NewContainer().
			Add(0x30, tlv.NewContainer()).
			Add(0x30, tlv.NewContainer().Add(0x0C, tlv.NewLeaf([]byte("GP SE Acc Ctl")))).
			Add(0xA1, tlv.NewContainer().Add(0x30, tlv.NewContainer().
				Add(0x06, tlv.NewLeaf(acMainOID)).
				Add(0x30, tlv.NewContainer().Add(0x04, tlv.NewLeaf(tlv.Hex(path)))))))
	}
	return mustEncode(root)
}

// ACMF returns an Access Control Main File.
func ACMF(refreshTag []byte, acrulesPath string) []byte {
	return mustEncode(tlv.NewContainer().Add(0x30, tlv.NewContainer().
		Add(0x04, tlv.NewLeaf(refreshTag)).
		Add(0x30, tlv.NewContainer().Add(0x04, tlv.NewLeaf(tlv.Hex(acrulesPath))))))
}

// HashCondition returns a condition file allowing the given certificate hashes.
func HashCondition(hashes ...[]byte) []byte {
	root := tlv.NewContainer()
	for _, h := range hashes {
		root.Add(0x30, tlv.NewContainer().Add(0x04, tlv.NewLeaf(h)))
	}
	return mustEncode(root)
}

// AllowAllCondition returns a condition file allowing every application.
func AllowAllCondition() []byte {
	return tlv.Hex("30 00")
}

// DenyAllCondition returns a condition file denying every application.
func DenyAllCondition() []byte {
	return []byte{}
}

// Pad appends 0xFF bytes so a file reaches size bytes, as cards store them.
func Pad(content []byte, size int) []byte {
	out := append([]byte{}, content...)
	for len(out) < size {
		out = append(out, tlv.PaddingTag)
	}
	return out
}

func pathNode(path string) *tlv.Node {
	return tlv.NewContainer().Add(0x04, tlv.NewLeaf(tlv.Hex(path)))
}

func mustEncode(n *tlv.Node) []byte {
	b, err := tlv.Encode(n)
	if err != nil {
		panic(fmt.Sprintf("simcard: %v", err))
	}
	return b
}
