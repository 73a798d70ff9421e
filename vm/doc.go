// Package vm evaluates rituals.
//
// This package contains:
//   - the Value variant and exact Integer arithmetic
//   - lexical Environments shared by closures across spirits
//   - the Grimoire, a sharded store every spirit reads and transmutes
//   - the spirit Registry and the summon/await/banish scheduler
//   - the seeded omen generator
package vm
