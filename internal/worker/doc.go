// Package worker implements the HTTP worker endpoint that executes tasks
// submitted by the remote backend.
//
// A worker accepts a codec-encoded task on POST /api/v1/tasks, runs it on a
// bounded goroutine pool and keeps the encoded outcome until the backend
// fetches and deletes it, or until it expires.
package worker
