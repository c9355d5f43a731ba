// Package prot changes and queries the protection of process memory pages.
package prot

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Perm is a page protection mode. The numeric values are the Windows
// PAGE_* constants; other systems translate them.
type Perm uint32

const (
	None             Perm = 0x01
	Read             Perm = 0x02
	ReadWrite        Perm = 0x04
	WriteCopy        Perm = 0x08
	Execute          Perm = 0x10
	ExecuteRead      Perm = 0x20
	ExecuteReadWrite Perm = 0x40
	ExecuteWriteCopy Perm = 0x80
	Guard            Perm = 0x100
	NoCache          Perm = 0x200
	WriteCombine     Perm = 0x400
)

var (
	// ErrPermission means the OS refused the protection change
	ErrPermission = errors.New("memory protection change failed")
	// ErrUnsupportedPerm means the mode has no equivalent on this OS
	ErrUnsupportedPerm = errors.New("unsupported memory protection")
)

var permNames = map[Perm]string{
	None:             "None",
	Read:             "Read",
	ReadWrite:        "ReadWrite",
	WriteCopy:        "WriteCopy",
	Execute:          "Execute",
	ExecuteRead:      "ExecuteRead",
	ExecuteReadWrite: "ExecuteReadWrite",
	ExecuteWriteCopy: "ExecuteWriteCopy",
	Guard:            "Guard",
	NoCache:          "NoCache",
	WriteCombine:     "WriteCombine",
}

func (p Perm) String() string {
	if s, ok := permNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Perm(%#x)", uint32(p))
}

var pageSize = uintptr(os.Getpagesize())

// PageSize returns the OS page size.
func PageSize() uintptr {
	return pageSize
}

// PageRange returns the page aligned span covering [addr, addr+size).
func PageRange(addr, size uintptr) (start, length uintptr) {
	start = addr &^ (pageSize - 1)
	end := (addr + size + pageSize - 1) &^ (pageSize - 1)
	if size == 0 {
		end = start + pageSize
	}
	return start, end - start
}

// Change sets p on every page covering [addr, addr+size).
func Change(addr, size uintptr, p Perm) error {
	if err := change(addr, size, p); err != nil {
		return errors.Wrapf(ErrPermission, "%s at %#x+%d: %v", p, addr, size, err)
	}
	return nil
}

// Set sets p on every page covering [addr, addr+size) and returns the
// protection the page containing addr had before.
func Set(addr, size uintptr, p Perm) (Perm, error) {
	old, err := set(addr, size, p)
	if err != nil {
		return None, errors.Wrapf(ErrPermission, "%s at %#x+%d: %v", p, addr, size, err)
	}
	return old, nil
}

// Elevate sets p on every page covering [addr, addr+size) one page at a
// time. The returned func gives each page back the protection it had. On
// error the pages already changed are restored.
func Elevate(addr, size uintptr, p Perm) (restore func() error, err error) {
	start, length := PageRange(addr, size)
	olds := make([]Perm, 0, length/pageSize)
	restore = func() error {
		var errs error
		for i, old := range olds {
			errs = multierr.Append(errs, Change(start+uintptr(i)*pageSize, 1, old))
		}
		return errs
	}
	for page := start; page < start+length; page += pageSize {
		old, err := Set(page, 1, p)
		if err != nil {
			return nil, multierr.Append(err, restore())
		}
		olds = append(olds, old)
	}
	return restore, nil
}
