// Package storage groups the tiered key-value cascade: a volatile cache, two
// persistent tiers, two remote tiers, and the orchestrator that reads through
// and writes across them.
//
// Tiers never call each other. The cascade package owns precedence, fan-out,
// secure values, and the key registries; every tier owns its own entries and
// its own prune timer.
package storage
