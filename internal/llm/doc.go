// Package llm abstracts the generative model used for field extraction.
// Providers implement Client and return a decoded JSON object; the caller
// picks only the keys it understands.
package llm
