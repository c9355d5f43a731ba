package sunset

import (
	"go.uber.org/zap"

	"github.com/k2io/sunset/internal/prot"
)

// Perm is a memory protection, numbered like the Windows PAGE_* constants.
type Perm = prot.Perm

const (
	PermNone             = prot.None
	PermRead             = prot.Read
	PermReadWrite        = prot.ReadWrite
	PermWriteCopy        = prot.WriteCopy
	PermExecute          = prot.Execute
	PermExecuteRead      = prot.ExecuteRead
	PermExecuteReadWrite = prot.ExecuteReadWrite
	PermExecuteWriteCopy = prot.ExecuteWriteCopy
	PermGuard            = prot.Guard
	PermNoCache          = prot.NoCache
	PermWriteCombine     = prot.WriteCombine
)

// SetPermission changes the protection of every page in [addr, addr+size)
// and returns the previous protection of the page holding addr.
func SetPermission(addr, size uintptr, p Perm) (Perm, error) {
	old, err := prot.Set(addr, size, p)
	if err != nil {
		log().Warn("protection change refused", hexField("addr", addr), zap.Stringer("perm", p), zap.Error(err))
		return old, err
	}
	return old, nil
}
