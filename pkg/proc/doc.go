// Package proc resolves thread-local variables of a stopped target.
//
// proc implements:
//   - the TLS resolver, computing the address of a thread's instance of a
//     thread-local variable for every supported TLS ABI
//   - discovery of TLS templates from executable images
//   - a minimal expression evaluator that reads variables through the resolver
//
// Access to the target (memory, registers, loaded images) is provided by a
// Host, for example the snapshot backend in pkg/proc/core.
package proc
