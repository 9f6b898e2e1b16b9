// Package types defines the core data structures shared by the orchestration engine.
//
// This package contains the fundamental types used throughout mwfaas,
// including:
//   - Chunk and Metadata, the unit of partitioned work
//   - Endpoint, the name of a remote worker resource
//   - TaskState, the lifecycle of one remote invocation
//   - Error and ErrorCode, the failure taxonomy
package types
