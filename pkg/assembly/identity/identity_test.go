package identity

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

// ecmaKey is the well-known ECMA standard public key.
var ecmaKey = []byte{0, 0, 0, 0, 0, 0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0}

func TestDecodeKeyMaterial(t *testing.T) {
	token := []byte{0xb0, 0x3f, 0x5f, 0x7f, 0x11, 0xd5, 0x0a, 0x3a}

	tests := []struct {
		name       string
		raw        Raw
		wantKey    []byte
		wantStored []byte
		wantToken  string
	}{
		{
			name:       "flag cleared stores a token",
			raw:        Raw{Name: "System.Runtime", PublicKey: token},
			wantStored: token,
			wantToken:  "b03f5f7f11d50a3a",
		},
		{
			name:      "flag set stores the full key",
			raw:       Raw{Name: "mscorlib", PublicKey: ecmaKey, Flags: FlagPublicKey},
			wantKey:   ecmaKey,
			wantToken: "b77a5c561934e089",
		},
		{
			name: "empty key with flag set",
			raw:  Raw{Name: "Unsigned", Flags: FlagPublicKey},
		},
		{
			name: "empty key with flag cleared",
			raw:  Raw{Name: "Unsigned"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Decode(tt.raw)
			assert.Equal(t, tt.wantKey, r.PublicKey())
			assert.Equal(t, tt.wantStored, r.StoredToken())
			assert.Equal(t, len(tt.wantKey) > 0, r.HasPublicKey())
			assert.False(t, len(r.PublicKey()) > 0 && len(r.StoredToken()) > 0, "never both")
			assert.Equal(t, tt.wantToken, hex.EncodeToString(r.PublicKeyToken()))
			assert.Equal(t, tt.raw.Flags, r.Flags())
		})
	}
}

func TestDecodeCopiesInput(t *testing.T) {
	key := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	r := Decode(Raw{Name: "A", PublicKey: key})
	key[0] = 0xFF
	assert.Equal(t, byte(1), r.StoredToken()[0])

	got := r.StoredToken()
	got[1] = 0xFF
	assert.Equal(t, byte(2), r.StoredToken()[1])
}

func TestCulture(t *testing.T) {
	tests := []struct {
		locale  string
		want    string
		neutral bool
		tag     language.Tag
	}{
		{locale: "", want: NeutralCulture, neutral: true, tag: language.Und},
		{locale: "neutral", want: NeutralCulture, neutral: true, tag: language.Und},
		{locale: "de-DE", want: "de-DE", tag: language.MustParse("de-DE")},
		{locale: "zh-Hans", want: "zh-Hans", tag: language.MustParse("zh-Hans")},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			r := Decode(Raw{Name: "A", Locale: tt.locale})
			assert.Equal(t, tt.want, r.Culture())
			assert.Equal(t, tt.neutral, r.IsNeutral())
			tag, err := r.CultureTag()
			require.NoError(t, err)
			assert.Equal(t, tt.tag, tag)
		})
	}
}

func TestVersionExtremes(t *testing.T) {
	r := Decode(Raw{Name: "A", Major: 0xFFFF, Minor: 0xFFFF, Build: 0xFFFF, Revision: 0xFFFF})
	assert.Equal(t, Version{65535, 65535, 65535, 65535}, r.Version())
	assert.Equal(t, "65535.65535.65535.65535", r.Version().String())
}

func TestFullName(t *testing.T) {
	r := Decode(Raw{Name: "mscorlib", Major: 4, PublicKey: ecmaKey, Flags: FlagPublicKey})
	assert.Equal(t, "mscorlib, Version=4.0.0.0, Culture=neutral, PublicKeyToken=b77a5c561934e089", r.FullName())

	r = Decode(Raw{Name: "Local", Major: 1, Minor: 2, Locale: "fr"})
	assert.Equal(t, "Local, Version=1.2.0.0, Culture=fr, PublicKeyToken=null", r.String())
}

func TestJSON(t *testing.T) {
	r := Decode(Raw{Name: "System.Runtime", Major: 8, PublicKey: []byte{0xb0, 0x3f, 0x5f, 0x7f, 0x11, 0xd5, 0x0a, 0x3a}})
	b, err := json.Marshal(r)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "System.Runtime", got["name"])
	assert.Equal(t, "8.0.0.0", got["version"])
	assert.Equal(t, "neutral", got["culture"])
	assert.Equal(t, "b03f5f7f11d50a3a", got["public_key_token"])
	assert.NotContains(t, got, "public_key")

	b, err = json.Marshal(NewFileReference("extra.netmodule"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"extra.netmodule"}`, string(b))
}
