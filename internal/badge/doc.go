// Package badge provides the badge code registry.
//
// A badge code is the text payload a badge cloner reports for an RFID/NFC
// credential. The Registry keeps every code seen so far as an ordered list
// with no duplicates, persisted as one JSON array under a single key of a
// storage.Store.
//
// # Semantics
//
//   - Add appends a code that is not yet present and reports whether it did.
//     Equality is exact string equality; no case or whitespace folding.
//   - List reads storage on every call. Missing, empty or corrupt data reads
//     as an empty list and never fails.
//   - Clear removes the persisted list.
//
// # Usage
//
//	registry := badge.NewRegistry(store, "rfidCodes")
//	registry.SetLogger(log)
//
//	added, err := registry.Add(ctx, "A1B2")
//	codes := registry.List(ctx)
//
// # Thread Safety
//
// Add and Clear hold a mutex across their read-modify-write cycle, so
// concurrent notification delivery and manual adds cannot lose codes.
package badge
