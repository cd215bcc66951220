// Package runtime runs one generated Python program in an isolated worker and
// reads back a single declared result binding.
//
// The package defines the request and result types shared by every isolation
// backend, the worker driver that is shipped into each sandbox, and a
// DefaultRuntime that routes requests to a backend by SecurityProfile.
//
// # Worker protocol
//
// Each execution sends an Envelope (program text, result name, import
// allow-list, limits, input document and a per-run nonce) to the driver on
// stdin, or through the file named by GEOEXEC_ENVELOPE. The driver answers
// with exactly one frame line on stdout:
//
//	__GEOEXEC__<nonce>:{"status":"ok","value":{...},"stdout":"..."}
//
// Statuses other than "ok" are decoded into *ExecError values whose Kind
// tells syntax errors, runtime errors, missing results and limit breaches apart.
//
// # Backends
//
// Backends live under runtime/backend: process (a host subprocess with its own
// process group and rlimits), docker (a locked down container) and kubernetes
// (a one-shot Job).
package runtime
