// Package master orchestrates one run of a function over partitioned data.
//
// A run moves through Idle, Splitting, Dispatching, Collecting and then Done
// or Failed. Every chunk is submitted before any result is awaited, endpoints
// are assigned round-robin, and outcomes are always reported by chunk
// position regardless of completion order.
package master
