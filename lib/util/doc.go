// Package util provides small shared helpers used across the dSync libraries:
// seed generation for hash distribution and a seeded FNV-1a string hash used
// by the sharded cache to assign keys to shards.
package util
