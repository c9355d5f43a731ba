package sunset

import (
	"golang.org/x/sys/windows"
)

// NewCallback returns a cdecl function pointer for use with NewInlineHook
// that calls fn with the saved registers. Windows limits the number of
// callbacks a process can create, and they are never freed.
func NewCallback(fn func(*Context)) uintptr {
	return windows.NewCallbackCDecl(func(ctx *Context) uintptr {
		fn(ctx)
		return 0
	})
}
