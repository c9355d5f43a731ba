package sunset

import (
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/k2io/sunset/internal/symbols"
)

// ErrManifest means a hook manifest is malformed or cannot be resolved.
var ErrManifest = errors.New("invalid hook manifest")

// Installer is a hook that can be placed at an address. Both
// *InlineHook and *ReplacementHook implement it.
type Installer interface {
	InstallAtPtr(addr uintptr) error
}

// Target pairs a hook with the address it goes to.
type Target struct {
	Hook Installer
	Addr uintptr
}

// InstallAll installs the hooks in order and stops at the first failure.
// Hooks installed before the failure stay installed.
func InstallAll(targets ...Target) error {
	for i, t := range targets {
		if err := t.Hook.InstallAtPtr(t.Addr); err != nil {
			return errors.Wrapf(err, "hook %d at %#x", i, t.Addr)
		}
	}
	return nil
}

// Manifest lists hook sites by symbol or offset. In TOML:
//
//	module = "/usr/bin/game"   # symbol source, the running executable if empty
//	base = 0x400000            # added to every symbol and offset
//
//	[[hook]]
//	name = "update"
//	symbol = "game_update"
//
//	[[hook]]
//	name = "draw"
//	offset = 0x1a2b0
type Manifest struct {
	Module string `toml:"module"`
	Base   uint64 `toml:"base"`
	Hooks  []Site `toml:"hook"`
}

// Site is one manifest entry. Exactly one of Symbol and Offset is set.
type Site struct {
	Name   string  `toml:"name"`
	Symbol string  `toml:"symbol"`
	Offset *uint64 `toml:"offset"`
}

// replaced in tests
var readSymbols = symbols.Read

// LoadManifest parses a TOML manifest. Unknown keys are rejected.
func LoadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrapf(ErrManifest, "%v", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifestFile is LoadManifest over the file at path.
func LoadManifestFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := LoadManifest(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return m, nil
}

func (m *Manifest) validate() error {
	seen := make(map[string]bool, len(m.Hooks))
	for i, s := range m.Hooks {
		if s.Name == "" {
			return errors.Wrapf(ErrManifest, "hook %d has no name", i)
		}
		if seen[s.Name] {
			return errors.Wrapf(ErrManifest, "hook %q listed twice", s.Name)
		}
		seen[s.Name] = true
		if (s.Symbol == "") == (s.Offset == nil) {
			return errors.Wrapf(ErrManifest, "hook %q needs exactly one of symbol and offset", s.Name)
		}
	}
	return nil
}

// Resolve returns the address of every site in manifest order.
func (m *Manifest) Resolve() ([]uintptr, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	var syms map[string]uintptr
	addrs := make([]uintptr, len(m.Hooks))
	for i, s := range m.Hooks {
		if s.Offset != nil {
			addrs[i] = uintptr(m.Base + *s.Offset)
			continue
		}
		if syms == nil {
			var err error
			if syms, err = m.symbols(); err != nil {
				return nil, err
			}
		}
		v, ok := syms[s.Symbol]
		if !ok {
			return nil, errors.Wrapf(ErrManifest, "hook %q: symbol %s not found", s.Name, s.Symbol)
		}
		addrs[i] = uintptr(m.Base) + v
	}
	return addrs, nil
}

func (m *Manifest) symbols() (map[string]uintptr, error) {
	module := m.Module
	if module == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, errors.Wrap(err, "locate executable")
		}
		module = exe
	}
	syms, err := readSymbols(module)
	if err != nil {
		return nil, errors.Wrapf(ErrManifest, "read symbols: %v", err)
	}
	return syms, nil
}

// Install places hooks[name] at every site of the manifest. All sites are
// resolved before anything is installed; a missing hook or symbol installs
// nothing. Installation then runs in manifest order and stops at the first
// failure.
func (m *Manifest) Install(hooks map[string]Installer) error {
	addrs, err := m.Resolve()
	if err != nil {
		return err
	}
	targets := make([]Target, len(m.Hooks))
	for i, s := range m.Hooks {
		h, ok := hooks[s.Name]
		if !ok || h == nil {
			return errors.Wrapf(ErrManifest, "no hook named %q", s.Name)
		}
		targets[i] = Target{Hook: h, Addr: addrs[i]}
	}
	for i, t := range targets {
		if err := t.Hook.InstallAtPtr(t.Addr); err != nil {
			return errors.Wrapf(err, "hook %q", m.Hooks[i].Name)
		}
		log().Debug("manifest hook installed", zap.String("name", m.Hooks[i].Name), hexField("addr", t.Addr))
	}
	return nil
}
