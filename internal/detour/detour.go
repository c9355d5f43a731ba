// Package detour attaches and detaches function detours in transactions.
//
// Attaching a detour overwrites the start of the target with a jump to the
// detour and moves the overwritten instructions into a trampoline that
// jumps back behind the patch. After commit the caller's slot holds the
// trampoline, so calling through the slot runs the original function.
//
// Writes to live code are not atomic with respect to threads executing the
// target. On Windows the threads registered with UpdateThread are suspended
// while the code is written; elsewhere the caller has to make sure no other
// thread runs the patched bytes.
package detour

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/k2io/sunset/internal/jit"
	"github.com/k2io/sunset/internal/patch"
	"github.com/k2io/sunset/internal/prot"
	"github.com/k2io/sunset/internal/reloc"
)

var (
	// ErrNoTransaction means Attach/Detach/Commit without Begin
	ErrNoTransaction = errors.New("no open transaction")
	// ErrInvalidSlot means a nil slot, or a slot holding no address
	ErrInvalidSlot = errors.New("invalid detour slot")
	// ErrAlreadyAttached means the target already carries a detour
	ErrAlreadyAttached = errors.New("target already detoured")
	// ErrNotAttached means the slot does not hold an attached trampoline
	ErrNotAttached = errors.New("detour not attached")
	// ErrUnreachable means no jump encoding reaches the detour
	ErrUnreachable = errors.New("detour unreachable from target")
)

type attachment struct {
	target     uintptr
	trampoline uintptr
	detour     uintptr
	saved      []byte
}

type op struct {
	detach bool
	slot   *uintptr
	detour uintptr

	// filled by prepare
	att   *attachment
	block *jit.Memory
	code  []byte
}

// Layer is a detour engine. The zero value is not usable, use New.
type Layer struct {
	txn sync.Mutex

	mu       sync.Mutex
	open     bool
	ops      []*op
	threads  []int
	attached map[uintptr]*attachment // by trampoline
	targets  map[uintptr]*attachment // by target

	mode int
	pool *jit.Pool
	log  *zap.Logger
}

// Default is the process-wide layer.
var Default = New(jit.Default)

// New returns a layer keeping its trampolines in pool.
func New(pool *jit.Pool) *Layer {
	return &Layer{
		attached: make(map[uintptr]*attachment),
		targets:  make(map[uintptr]*attachment),
		mode:     reloc.NativeMode,
		pool:     pool,
		log:      zap.NewNop(),
	}
}

// SetLogger replaces the layer's logger.
func (l *Layer) SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	l.mu.Lock()
	l.log = log
	l.mu.Unlock()
}

// Begin opens a transaction, waiting for any other one to finish.
func (l *Layer) Begin() error {
	l.txn.Lock()
	l.mu.Lock()
	l.open = true
	l.ops = nil
	l.threads = nil
	l.mu.Unlock()
	return nil
}

// UpdateThread registers a thread to be paused while code is written.
func (l *Layer) UpdateThread(tid int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return ErrNoTransaction
	}
	l.threads = append(l.threads, tid)
	return nil
}

// Attach schedules a detour of the function *slot to detour.
func (l *Layer) Attach(slot *uintptr, detour uintptr) error {
	if slot == nil || *slot == 0 || detour == 0 {
		return ErrInvalidSlot
	}
	return l.queue(&op{slot: slot, detour: detour})
}

// Detach schedules removal of the detour whose trampoline *slot holds.
func (l *Layer) Detach(slot *uintptr, detour uintptr) error {
	if slot == nil || *slot == 0 {
		return ErrInvalidSlot
	}
	return l.queue(&op{detach: true, slot: slot, detour: detour})
}

func (l *Layer) queue(o *op) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return ErrNoTransaction
	}
	l.ops = append(l.ops, o)
	return nil
}

// Abort drops the scheduled operations and closes the transaction.
func (l *Layer) Abort() error {
	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return ErrNoTransaction
	}
	l.release(l.ops)
	l.close()
	l.mu.Unlock()
	l.txn.Unlock()
	return nil
}

// Commit applies the scheduled operations. Trampolines for every attach are
// built before any target is written; a failure there leaves all targets
// untouched.
func (l *Layer) Commit() error {
	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return ErrNoTransaction
	}
	defer l.txn.Unlock()
	defer l.mu.Unlock()
	defer l.close()

	for _, o := range l.ops {
		if err := l.prepare(o); err != nil {
			l.release(l.ops)
			l.log.Warn("detour transaction aborted", zap.Error(err))
			return err
		}
	}

	resume, err := suspend(l.threads)
	if err != nil {
		l.release(l.ops)
		return errors.Wrap(err, "suspend threads")
	}
	defer resume()

	for i, o := range l.ops {
		if err := l.apply(o); err != nil {
			l.release(l.ops[i:])
			return err
		}
	}
	return nil
}

func (l *Layer) close() {
	l.open = false
	l.ops = nil
	l.threads = nil
}

func (l *Layer) release(ops []*op) {
	for _, o := range ops {
		if o.block != nil {
			// never published, nothing can jump here
			_ = o.block.Release()
			o.block = nil
		}
	}
}

// Attached reports whether target carries a detour.
func (l *Layer) Attached(target uintptr) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.targets[target]
	return ok
}

func (l *Layer) prepare(o *op) error {
	if o.detach {
		att, ok := l.attached[*o.slot]
		if !ok || (o.detour != 0 && att.detour != o.detour) {
			return errors.Wrapf(ErrNotAttached, "slot %#x", *o.slot)
		}
		o.att = att
		o.code = att.saved
		return nil
	}

	target := *o.slot
	if _, ok := l.targets[target]; ok {
		return errors.Wrapf(ErrAlreadyAttached, "%#x", target)
	}
	for _, other := range l.ops {
		if other != o && !other.detach && other.att != nil && other.att.target == target {
			return errors.Wrapf(ErrAlreadyAttached, "%#x twice in one transaction", target)
		}
	}

	siteLen := patch.JmpLen
	if !patch.Fits(target, o.detour) {
		if l.mode != 64 {
			return errors.Wrapf(ErrUnreachable, "%#x -> %#x", target, o.detour)
		}
		siteLen = patch.AbsJmpLen
	}
	r := reloc.New(l.mode, reloc.WithMinLength(siteLen))
	n, padded, err := r.MinimumCopyLength(target)
	if err != nil {
		return errors.Wrapf(err, "analyse %#x", target)
	}

	backLen := patch.JmpLen
	if l.mode == 64 {
		backLen = patch.AbsJmpLen
	}
	block, err := jit.AllocateNear(target, padded+backLen)
	if err != nil {
		return err
	}
	o.block = block
	base := block.Addr()

	relocated, err := r.Relocate(target, n, base)
	if err != nil {
		return errors.Wrapf(err, "relocate %#x", target)
	}
	if len(relocated) > padded {
		return errors.Wrapf(reloc.ErrRelocation, "%d bytes exceed bound %d", len(relocated), padded)
	}
	code := block.Bytes()
	copy(code, relocated)
	if err := encodeJump(code[len(relocated):], base+uintptr(len(relocated)), target+uintptr(n)); err != nil {
		return err
	}

	site := make([]byte, n)
	patch.EncodeNop(site)
	if err := encodeJump(site, target, o.detour); err != nil {
		return err
	}

	o.att = &attachment{
		target:     target,
		trampoline: base,
		detour:     o.detour,
		saved:      append([]byte(nil), patch.Slice(target, n)...),
	}
	o.code = site
	return nil
}

func encodeJump(buf []byte, src, dst uintptr) error {
	if patch.Fits(src, dst) {
		return patch.EncodeJmp(buf, src, dst)
	}
	return patch.EncodeAbsJmp(buf, dst)
}

func (l *Layer) apply(o *op) error {
	if err := l.writeSite(o.att.target, o.code); err != nil {
		return err
	}
	if o.detach {
		delete(l.attached, o.att.trampoline)
		delete(l.targets, o.att.target)
		*o.slot = o.att.target
		l.log.Debug("detour detached",
			zap.String("target", hex(o.att.target)),
			zap.String("trampoline", hex(o.att.trampoline)))
		return nil
	}
	l.pool.Retain(o.block)
	o.block = nil
	l.attached[o.att.trampoline] = o.att
	l.targets[o.att.target] = o.att
	*o.slot = o.att.trampoline
	l.log.Debug("detour attached",
		zap.String("target", hex(o.att.target)),
		zap.String("detour", hex(o.detour)),
		zap.String("trampoline", hex(o.att.trampoline)),
		zap.Int("copied", len(o.att.saved)))
	return nil
}

// replaced in tests
var elevate = prot.Elevate

// writeSite replaces the code at target under a temporary writable
// protection and puts the old protection back. Once the bytes are written
// the change is live, so a failed restore is only logged.
func (l *Layer) writeSite(target uintptr, code []byte) error {
	restore, err := elevate(target, uintptr(len(code)), prot.ExecuteReadWrite)
	if err != nil {
		return err
	}
	if err := patch.Write(target, code); err != nil {
		_ = restore()
		return err
	}
	if err := restore(); err != nil {
		l.log.Warn("protection not restored", zap.String("target", hex(target)), zap.Error(err))
	}
	return nil
}
