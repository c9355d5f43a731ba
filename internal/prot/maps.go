package prot

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Mapping is one line of a /proc/[pid]/maps listing.
type Mapping struct {
	StartAddr uintptr
	EndAddr   uintptr
	Perm      Perm
	Private   bool
	PathName  string
}

// Contains reports whether addr lies inside the mapping.
func (m Mapping) Contains(addr uintptr) bool {
	return addr >= m.StartAddr && addr < m.EndAddr
}

// ParseMaps parses the format of /proc/[pid]/maps, see proc(5).
func ParseMaps(data []byte) ([]Mapping, error) {
	var mappings []Mapping
	for i, line := range bytes.Split(data, []byte("\n")) {
		fields := strings.Fields(string(line))
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 5 {
			return nil, fmt.Errorf("got fewer than 5 fields on line %d of maps: %s", i, line)
		}
		addrRange := strings.Split(fields[0], "-")
		if len(addrRange) != 2 {
			return nil, fmt.Errorf("got %d fields for address range on line %d (expected 2): %s", len(addrRange), i, line)
		}
		start, err := strconv.ParseUint(addrRange[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse start address (%s) on line %d: %w", addrRange[0], i, err)
		}
		end, err := strconv.ParseUint(addrRange[1], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse end address (%s) on line %d: %w", addrRange[1], i, err)
		}
		var r, w, x bool
		m := Mapping{StartAddr: uintptr(start), EndAddr: uintptr(end)}
		for _, c := range fields[1] {
			switch c {
			case 'r':
				r = true
			case 'w':
				w = true
			case 'x':
				x = true
			case 'p':
				m.Private = true
			case 's', '-':
			default:
				return nil, fmt.Errorf("got an unexpected permission bit '%c' in perms '%s'", c, fields[1])
			}
		}
		m.Perm = fromPermBits(r, w, x)
		if len(fields) > 5 {
			m.PathName = fields[5]
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

func fromPermBits(r, w, x bool) Perm {
	switch {
	case w && x:
		return ExecuteReadWrite
	case r && x:
		return ExecuteRead
	case x:
		return Execute
	case w:
		return ReadWrite
	case r:
		return Read
	}
	return None
}

// Find returns the mapping containing addr.
func Find(mappings []Mapping, addr uintptr) (Mapping, bool) {
	for _, m := range mappings {
		if m.Contains(addr) {
			return m, true
		}
	}
	return Mapping{}, false
}

// Extent returns how many of the n bytes at addr lie in accessible
// mappings without a gap.
func Extent(mappings []Mapping, addr uintptr, n int) int {
	end := addr
	for end < addr+uintptr(n) {
		m, ok := Find(mappings, end)
		if !ok || m.Perm == None {
			break
		}
		end = m.EndAddr
	}
	if end-addr > uintptr(n) {
		return n
	}
	return int(end - addr)
}
