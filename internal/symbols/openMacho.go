package symbols

import (
	"debug/macho"
	"io"
)

type machoFile struct {
	macho *macho.File
}

func openMacho(r io.ReaderAt) (rawFile, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &machoFile{f}, nil
}

func (f *machoFile) Close() error {
	return f.macho.Close()
}

func (f *machoFile) Symbols() (map[string]uintptr, error) {
	syms := make(map[string]uintptr)
	if f.macho.Symtab == nil {
		return syms, nil
	}
	for _, s := range f.macho.Symtab.Syms {
		if s.Value == 0 {
			continue
		}
		syms[s.Name] = uintptr(s.Value)
	}
	return syms, nil
}
