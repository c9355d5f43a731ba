package sunset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordInstaller struct {
	addrs []uintptr
	err   error
}

func (r *recordInstaller) InstallAtPtr(addr uintptr) error {
	if r.err != nil {
		return r.err
	}
	r.addrs = append(r.addrs, addr)
	return nil
}

func fakeSymbols(t *testing.T, syms map[string]uintptr) *string {
	var module string
	readSymbols = func(name string) (map[string]uintptr, error) {
		module = name
		return syms, nil
	}
	t.Cleanup(func() { readSymbols = defaultReadSymbols })
	return &module
}

var defaultReadSymbols = readSymbols

const manifestText = `
module = "/opt/game/game.exe"
base = 0x400000

[[hook]]
name = "update"
symbol = "game_update"

[[hook]]
name = "draw"
offset = 0x1a2b0
`

func TestLoadManifest(t *testing.T) {
	m, err := LoadManifest(strings.NewReader(manifestText))
	require.NoError(t, err)

	assert.Equal(t, "/opt/game/game.exe", m.Module)
	assert.Equal(t, uint64(0x400000), m.Base)
	require.Len(t, m.Hooks, 2)
	assert.Equal(t, "update", m.Hooks[0].Name)
	assert.Equal(t, "game_update", m.Hooks[0].Symbol)
	assert.Nil(t, m.Hooks[0].Offset)
	require.NotNil(t, m.Hooks[1].Offset)
	assert.Equal(t, uint64(0x1a2b0), *m.Hooks[1].Offset)
}

func TestLoadManifestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hooks.toml")
	require.NoError(t, os.WriteFile(path, []byte(manifestText), 0o644))

	m, err := LoadManifestFile(path)
	require.NoError(t, err)
	assert.Len(t, m.Hooks, 2)

	_, err = LoadManifestFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadManifestInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "[[hook]]\nname = \"a\"\noffset = 1\ncolour = \"red\"\n",
		"both":          "[[hook]]\nname = \"a\"\noffset = 1\nsymbol = \"f\"\n",
		"neither":       "[[hook]]\nname = \"a\"\n",
		"no name":       "[[hook]]\noffset = 1\n",
		"duplicate":     "[[hook]]\nname = \"a\"\noffset = 1\n[[hook]]\nname = \"a\"\noffset = 2\n",
		"not toml":      "[[hook\n",
		"wrong type":    "base = \"high\"\n",
		"offset at top": "offset = 1\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadManifest(strings.NewReader(text))
			assert.ErrorIs(t, err, ErrManifest)
		})
	}
}

func TestManifestInstall(t *testing.T) {
	module := fakeSymbols(t, map[string]uintptr{"game_update": 0x1000})
	m, err := LoadManifest(strings.NewReader(manifestText))
	require.NoError(t, err)

	update, draw := &recordInstaller{}, &recordInstaller{}
	require.NoError(t, m.Install(map[string]Installer{"update": update, "draw": draw}))

	assert.Equal(t, "/opt/game/game.exe", *module)
	assert.Equal(t, []uintptr{0x401000}, update.addrs)
	assert.Equal(t, []uintptr{0x41a2b0}, draw.addrs)
}

func TestManifestResolvesBeforeInstalling(t *testing.T) {
	fakeSymbols(t, map[string]uintptr{})
	m, err := LoadManifest(strings.NewReader(manifestText))
	require.NoError(t, err)

	update, draw := &recordInstaller{}, &recordInstaller{}
	err = m.Install(map[string]Installer{"update": update, "draw": draw})
	assert.ErrorIs(t, err, ErrManifest, "unknown symbol")
	assert.Empty(t, draw.addrs)

	fakeSymbols(t, map[string]uintptr{"game_update": 0x1000})
	err = m.Install(map[string]Installer{"draw": draw})
	assert.ErrorIs(t, err, ErrManifest, "missing installer")
	assert.Empty(t, draw.addrs)
}

func TestManifestStopsAtFirstFailure(t *testing.T) {
	fakeSymbols(t, map[string]uintptr{"game_update": 0x1000})
	m, err := LoadManifest(strings.NewReader(manifestText))
	require.NoError(t, err)

	update, draw := &recordInstaller{err: ErrDoubleHook}, &recordInstaller{}
	err = m.Install(map[string]Installer{"update": update, "draw": draw})
	assert.ErrorIs(t, err, ErrDoubleHook)
	assert.Empty(t, draw.addrs)
}

func TestManifestDefaultsToExecutable(t *testing.T) {
	module := fakeSymbols(t, map[string]uintptr{"main.f": 0x10})
	m := &Manifest{Hooks: []Site{{Name: "f", Symbol: "main.f"}}}

	addrs, err := m.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []uintptr{0x10}, addrs)
	exe, err := os.Executable()
	require.NoError(t, err)
	assert.Equal(t, exe, *module)
}

func TestInstallAll(t *testing.T) {
	a, b, c := &recordInstaller{}, &recordInstaller{err: ErrNotInstalled}, &recordInstaller{}
	err := InstallAll(Target{a, 0x10}, Target{b, 0x20}, Target{c, 0x30})
	assert.ErrorIs(t, err, ErrNotInstalled)
	assert.Equal(t, []uintptr{0x10}, a.addrs)
	assert.Empty(t, c.addrs)

	assert.NoError(t, InstallAll())
}
