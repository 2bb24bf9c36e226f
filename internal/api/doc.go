// Package api exposes the HTTP interface a chat bridge uses to feed messages
// to the NFT data evaluator, read participant records and status texts, and
// list the mint ledger.
package api
