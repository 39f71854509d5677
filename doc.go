// Package redproc spawns child processes with redirected standard streams and
// gives the parent bounded, multiplexed access to them.
//
// A Process is created with New, launched with Start, and released with
// Destroy. While the child runs, Read multiplexes stdout and stderr, Write
// feeds stdin, and Wait/Stop reap the child. Read and Write are bounded by the
// per-call timeout and the whole-process deadline configured in Options and
// block indefinitely only when both are left unbounded; Wait and each Stop
// rung are bounded by the timeout passed to them instead.
//
// A Process supports at most two goroutines: one consuming output (Read,
// Drain, Parse, Wait) and one feeding stdin and signals (Write, Close,
// Terminate, Kill). The child and the kernel
// pipes between parent and child are the concurrent parts; Drain reads both
// output streams through one multiplexer so the child can never deadlock on a
// full pipe buffer.
package redproc
