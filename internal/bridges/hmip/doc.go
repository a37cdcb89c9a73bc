// Package hmip bridges HomematicIP wired multi-channel actuators to
// per-channel endpoints.
//
// It handles:
//   - Decoding device snapshots into typed channel records
//   - Reconciling snapshots into cached per-channel state and pushing
//     only real changes to the endpoint host
//   - Translating endpoint On/Brightness writes into channel-indexed
//     control calls against the HomematicIP cloud
//   - Loading current state and following the push event stream
//
// # Bindings
//
// An HmIPW-DRD3 dimmer is exposed either as one accessory with three
// Lightbulb endpoints (fan-out, the default) or as one accessory per
// configured channel (single). An HmIPW-DRS8 switch bank is exposed with
// single bindings only.
//
// # State
//
// Cached state is written only by reconciliation. A set request never
// touches the cache: the physical result arrives with the next snapshot.
// A dimmer's On state is always derived as brightness > 0.
//
// Thread Safety: every binding guards its cache with one mutex, held for a
// whole reconciliation pass and never across a control call.
package hmip
