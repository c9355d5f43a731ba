// Package sunset intercepts native x86 code at run time.
//
// A ReplacementHook redirects a whole function to a callback of the same
// signature and keeps the original callable through a trampoline. An
// InlineHook splices a call into the instruction stream at any address:
// the callback sees the saved registers as a *Context and may change them,
// then the overwritten instructions run from the trampoline and execution
// continues behind the patch.
//
// Patching rewrites live code. Nothing stops another thread from running
// the bytes being replaced, so hooks should be installed while no other
// thread executes the targets, typically during start-up. On Windows the
// default interceptor suspends the threads registered with UpdateThread
// while it writes.
//
// Register Context capture needs a 32-bit (GOARCH=386) process.
// Replacement hooks work on 386 and amd64.
package sunset
