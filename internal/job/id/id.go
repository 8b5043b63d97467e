// Package id provides unique identifier generation for jobs.
package id

import "github.com/google/uuid"

// Generate creates a new unique job ID.
// Format: job-<uuid>
// Example: job-7f1c2e4a-9b0d-4c3e-8a1f-2d6b5e9c0a7b
func Generate() string {
	return "job-" + uuid.NewString()
}
