package symbols

import (
	"debug/elf"
	"io"
)

type elfFile struct {
	elf *elf.File
}

func openElf(r io.ReaderAt) (rawFile, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &elfFile{f}, nil
}

func (e *elfFile) Close() error {
	return e.elf.Close()
}

func (e *elfFile) Symbols() (map[string]uintptr, error) {
	elfSyms, err := e.elf.Symbols()
	if err != nil {
		return nil, err
	}
	syms := make(map[string]uintptr, len(elfSyms))
	for _, s := range elfSyms {
		if s.Value == 0 {
			continue
		}
		syms[s.Name] = uintptr(s.Value)
	}
	return syms, nil
}
