// Package storage provides the key-value store that persists badgelink data.
//
// The contract is deliberately small: string values under string keys, with
// get, set and remove. SQLiteStore is the production implementation backed
// by the kv table; MemoryStore serves tests and ephemeral runs.
package storage
