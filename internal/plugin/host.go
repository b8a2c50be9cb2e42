// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin provides plugin instance lifecycle control on top of
// isolated execution contexts.
package plugin

import (
	"context"

	"github.com/holomush/plugbox/internal/plugin/domain"
	"github.com/holomush/plugbox/internal/plugin/report"
)

// Context is an isolated execution context: a boundary with its own loaded
// module state that runs named units of work and can be torn down on its own.
// Only string values cross the boundary.
type Context interface {
	// Label returns the label the context was created with.
	Label() string

	// SetData writes a value into context-local storage.
	SetData(ctx context.Context, key, value string) error

	// RunInside executes unit synchronously inside the boundary. Anything
	// that goes wrong inside is returned as an error or recorded in the
	// report; it never crashes the host.
	RunInside(ctx context.Context, unit domain.Unit) (*report.Report, error)

	// Modules returns the names of modules loaded inside the context.
	Modules(ctx context.Context) ([]string, error)

	// Destroy releases the boundary and everything loaded inside it.
	Destroy(ctx context.Context) error
}

// Host creates isolated execution contexts of one kind.
type Host interface {
	// Create allocates a new context tagged with label.
	Create(ctx context.Context, label string) (Context, error)

	// Close destroys every context the host still owns.
	Close(ctx context.Context) error
}
