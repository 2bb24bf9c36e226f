// Package web3 houses blockchain connectivity utilities: the signer held by
// the process, the contract write abstraction used by the mint pipeline, and
// the YAML chain definitions that name RPC endpoints and block explorers.
package web3
