// Package lyncuperr defines the tick-scoped error taxonomy the
// Dispatcher classifies against (spec §7).
package lyncuperr

import "errors"

// Sentinel errors. Wrap with fmt.Errorf("...: %w", Sentinel) to add
// context while staying errors.Is-compatible.
var (
	// ErrTransientExternal marks a shared-store or identity-source
	// outage. The current tick aborts after releasing any held
	// resources; the next tick is expected to recover on its own.
	ErrTransientExternal = errors.New("transient external failure")

	// ErrArtifactMissing marks the absence of ANN artifact files.
	// Expected during cold start; logged once per tick, not an error
	// condition that aborts the process.
	ErrArtifactMissing = errors.New("ann artifact missing")

	// ErrMalformed marks malformed input: a non-integer id in the
	// waiting set, or a corrupt map sidecar file. Individual malformed
	// entries are dropped; a corrupt sidecar aborts the tick without
	// advancing room ids.
	ErrMalformed = errors.New("malformed input")

	// ErrPublishFailure marks a per-user push failure. Logged; the
	// user is left in the waiting set and retried next tick.
	ErrPublishFailure = errors.New("publish failure")

	// ErrInvariant marks a programming error — e.g. a non-terminal
	// group emitted outside [minGroup, maxGroup]. The tick aborts and
	// the lock is released; callers should treat this as fatal and
	// let process supervision restart.
	ErrInvariant = errors.New("invariant violation")
)
