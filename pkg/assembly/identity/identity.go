// Package identity holds the identity of an assembly reference: name,
// version, culture and public-key material.
package identity

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// FlagPublicKey marks the key bytes of a reference as a full public key
// rather than a token.
const FlagPublicKey = 0x0001

// NeutralCulture names the invariant culture.
const NeutralCulture = "neutral"

// Version is a four-part assembly version.
type Version struct {
	Major, Minor, Build, Revision uint16
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}

// AssemblyReference identifies an assembly. It is immutable; accessors that
// return slices return copies.
type AssemblyReference struct {
	name      string
	version   Version
	culture   string
	publicKey []byte
	token     []byte
	flags     uint32
}

// Name returns the simple name.
func (r AssemblyReference) Name() string { return r.name }

// Version returns the version quad.
func (r AssemblyReference) Version() Version { return r.version }

// Flags returns the raw flag word.
func (r AssemblyReference) Flags() uint32 { return r.flags }

// Culture returns the culture name, or NeutralCulture.
func (r AssemblyReference) Culture() string {
	if r.culture == "" {
		return NeutralCulture
	}
	return r.culture
}

// IsNeutral reports whether the reference has no specific culture.
func (r AssemblyReference) IsNeutral() bool { return r.culture == "" }

// CultureTag parses the culture as a BCP 47 tag. The neutral culture is
// language.Und.
func (r AssemblyReference) CultureTag() (language.Tag, error) {
	if r.culture == "" {
		return language.Und, nil
	}
	return language.Parse(r.culture)
}

// HasPublicKey reports whether the reference carries a full public key.
func (r AssemblyReference) HasPublicKey() bool { return len(r.publicKey) > 0 }

// PublicKey returns the full public key, or nil if the reference only has a
// token or no key material.
func (r AssemblyReference) PublicKey() []byte {
	return clone(r.publicKey)
}

// PublicKeyToken returns the stored token, or the token derived from the full
// key. It is nil when the reference has no key material.
func (r AssemblyReference) PublicKeyToken() []byte {
	if len(r.publicKey) > 0 {
		return TokenFromKey(r.publicKey)
	}
	return clone(r.token)
}

// StoredToken returns the token bytes exactly as they were stored, nil when
// the reference carries a full key.
func (r AssemblyReference) StoredToken() []byte {
	return clone(r.token)
}

// FullName renders the display name, e.g.
// "System.Runtime, Version=8.0.0.0, Culture=neutral, PublicKeyToken=b03f5f7f11d50a3a".
func (r AssemblyReference) FullName() string {
	var b strings.Builder
	b.WriteString(r.name)
	b.WriteString(", Version=")
	b.WriteString(r.version.String())
	b.WriteString(", Culture=")
	b.WriteString(r.Culture())
	b.WriteString(", PublicKeyToken=")
	if tok := r.PublicKeyToken(); len(tok) > 0 {
		b.WriteString(hex.EncodeToString(tok))
	} else {
		b.WriteString("null")
	}
	return b.String()
}

func (r AssemblyReference) String() string { return r.FullName() }

// MarshalJSON emits the reference with hex-encoded key material.
func (r AssemblyReference) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name           string `json:"name"`
		Version        string `json:"version"`
		Culture        string `json:"culture"`
		PublicKey      string `json:"public_key,omitempty"`
		PublicKeyToken string `json:"public_key_token,omitempty"`
		Flags          uint32 `json:"flags"`
		FullName       string `json:"full_name"`
	}{
		Name:           r.name,
		Version:        r.version.String(),
		Culture:        r.Culture(),
		PublicKey:      hex.EncodeToString(r.publicKey),
		PublicKeyToken: hex.EncodeToString(r.PublicKeyToken()),
		Flags:          r.flags,
		FullName:       r.FullName(),
	})
}

// FileReference names a file of a multi-file assembly.
type FileReference struct {
	name string
}

// NewFileReference returns the reference to the named file.
func NewFileReference(name string) FileReference {
	return FileReference{name: name}
}

// Name returns the file name.
func (f FileReference) Name() string { return f.name }

// MarshalJSON emits {"name": ...}.
func (f FileReference) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name string `json:"name"`
	}{f.name})
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
