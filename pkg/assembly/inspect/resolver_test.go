package inspect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/gometa/pkg/assembly/identity"
)

func ref(name string) identity.AssemblyReference {
	return identity.Decode(identity.Raw{Name: name})
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("MZ"), 0o644))
}

func TestProbeResolver(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	touch(t, filepath.Join(b, "Lib.exe"))
	touch(t, filepath.Join(b, "Both.exe"))
	touch(t, filepath.Join(b, "Both.dll"))
	require.NoError(t, os.Mkdir(filepath.Join(a, "Dir.dll"), 0o755))

	p := ProbeResolver{Dirs: []string{a, b}}

	got, err := p.Resolve(ref("Lib"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(b, "Lib.exe"), got)

	got, err = p.Resolve(ref("Both"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(b, "Both.dll"), got, ".dll is probed first")

	for _, name := range []string{"Missing", "Dir", "", "../Lib"} {
		_, err = p.Resolve(ref(name))
		assert.True(t, errors.Is(err, ErrUnresolved), name)
	}

	got, err = ProbeResolver{Dirs: []string{b}, Extensions: []string{".exe"}}.Resolve(ref("Both"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(b, "Both.exe"), got)
}

func TestChainSwallowsFailures(t *testing.T) {
	calls := 0
	fail := ResolverFunc(func(identity.AssemblyReference) (string, error) {
		calls++
		return "", errors.New("boom")
	})
	hit := ResolverFunc(func(r identity.AssemblyReference) (string, error) {
		return "/lib/" + r.Name() + ".dll", nil
	})

	got, err := Chain{fail, nil, hit, fail}.Resolve(ref("X"))
	require.NoError(t, err)
	assert.Equal(t, "/lib/X.dll", got)
	assert.Equal(t, 1, calls)

	_, err = Chain{fail, fail}.Resolve(ref("X"))
	assert.True(t, errors.Is(err, ErrUnresolved))
	_, err = Chain{}.Resolve(ref("X"))
	assert.True(t, errors.Is(err, ErrUnresolved))
}

func TestSiblingFirst(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "Near.dll"))
	fallback := ResolverFunc(func(identity.AssemblyReference) (string, error) {
		return "/far.dll", nil
	})
	r := SiblingFirst(filepath.Join(dir, "App.dll"), fallback)

	got, err := r.Resolve(ref("Near"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Near.dll"), got)

	got, err = r.Resolve(ref("Far"))
	require.NoError(t, err)
	assert.Equal(t, "/far.dll", got)

	_, err = SiblingFirst(filepath.Join(dir, "App.dll"), nil).Resolve(ref("Far"))
	assert.Error(t, err)
}
