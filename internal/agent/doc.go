// Package agent implements the NFT data evaluator: it extracts name,
// description and recipient from each conversation turn, merges them into the
// participant's cached record under a per-key lock, and triggers the mint
// pipeline once the record is complete. The narrators in this package render
// the record state as guidance text for the next model call.
package agent
