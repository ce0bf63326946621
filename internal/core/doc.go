// Package core runs the ingestion workflow around the pure engine in
// internal/ingest: it owns the current registry value, stores previews,
// commits them and applies manual corrections.
//
// # Preview and confirm
//
// [Service.Ingest] plans a batch against the current registry. Against a
// non-empty registry the plan is kept for [Options.PlanTTL] and nothing is
// written. [Service.Confirm] re-checks the registry version, re-plans,
// commits through [ingest.Commit], persists the snapshot and import record
// in one [Store.Commit] call and only then swaps the registry. A plan
// computed against an older version fails with [ingest.ErrStaleRegistry].
//
// # Writers
//
// Confirm, the manual corrections, snapshot import and Wipe all take the
// [CommitLock]. Readers use the current immutable registry value and never
// wait for a commit.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError]:
//
//   - ING001-ING008: ingestion (stale preview, expired plan, busy, input)
//   - REG001-REG003: registry corrections
//   - SNAP001-SNAP002: snapshot import
//   - REQ001-REQ003: cancelled, timed out and rate limited requests
package core
