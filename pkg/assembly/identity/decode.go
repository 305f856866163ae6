package identity

import (
	"crypto/sha1"
	"strings"
)

// Raw holds the identity fields of a reference as read from a table row.
type Raw struct {
	Name                          string
	Major, Minor, Build, Revision uint16
	Locale                        string
	PublicKey                     []byte
	Flags                         uint32
}

// Decode builds an AssemblyReference from raw fields. The key bytes are a
// full key when FlagPublicKey is set and a token otherwise; empty bytes mean
// no key material. Byte slices are copied.
func Decode(raw Raw) AssemblyReference {
	r := AssemblyReference{
		name:    raw.Name,
		version: Version{raw.Major, raw.Minor, raw.Build, raw.Revision},
		flags:   raw.Flags,
	}
	if !strings.EqualFold(raw.Locale, NeutralCulture) {
		r.culture = raw.Locale
	}
	if raw.Flags&FlagPublicKey != 0 {
		r.publicKey = clone(raw.PublicKey)
	} else {
		r.token = clone(raw.PublicKey)
	}
	return r
}

// TokenFromKey derives the 8-byte public key token: the last eight bytes of
// the key's SHA-1 hash in reverse order.
func TokenFromKey(key []byte) []byte {
	if len(key) == 0 {
		return nil
	}
	sum := sha1.Sum(key)
	tok := make([]byte, 8)
	for i := range tok {
		tok[i] = sum[len(sum)-1-i]
	}
	return tok
}
