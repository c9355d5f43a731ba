package symbols

import (
	"debug/pe"
	"io"
)

type peFile struct {
	pe *pe.File
}

func openPE(r io.ReaderAt) (rawFile, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &peFile{f}, nil
}

func (f *peFile) Close() error {
	return f.pe.Close()
}

func (f *peFile) imageBase() uintptr {
	switch oh := f.pe.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		return uintptr(oh.ImageBase)
	case *pe.OptionalHeader64:
		return uintptr(oh.ImageBase)
	}
	return 0
}

// PE symbol values are section relative.
func (f *peFile) Symbols() (map[string]uintptr, error) {
	syms := make(map[string]uintptr, len(f.pe.Symbols))
	base := f.imageBase()
	for _, s := range f.pe.Symbols {
		if s.SectionNumber <= 0 || int(s.SectionNumber) > len(f.pe.Sections) {
			continue
		}
		sect := f.pe.Sections[s.SectionNumber-1]
		syms[s.Name] = base + uintptr(sect.VirtualAddress) + uintptr(s.Value)
	}
	return syms, nil
}
