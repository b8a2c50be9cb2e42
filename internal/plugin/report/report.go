// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package report carries diagnostics out of a context boundary.
//
// Nothing that fails inside a context is allowed to crash the host, so the
// loader and invoker record what went wrong here instead of returning early.
package report

import (
	"errors"
	"fmt"
)

// Stage names where inside a unit a failure happened.
type Stage string

// Failure stages.
const (
	StageResolve    Stage = "resolve"
	StageExecute    Stage = "execute"
	StageDependency Stage = "dependency"
	StageConstruct  Stage = "construct"
	StageInvoke     Stage = "invoke"
)

// Failure describes one recoverable problem inside a unit.
type Failure struct {
	Module   string
	Endpoint string
	Stage    Stage
	Message  string
}

// Error implements error.
func (f Failure) Error() string {
	if f.Endpoint != "" {
		return fmt.Sprintf("%s %s.%s: %s", f.Stage, f.Module, f.Endpoint, f.Message)
	}
	return fmt.Sprintf("%s %s: %s", f.Stage, f.Module, f.Message)
}

// Report is the outcome of one unit of work.
type Report struct {
	Unit string
	// Loaded lists modules added to the context by this unit, in load order.
	Loaded []string
	// Invoked lists endpoints ("Module.Type") whose contract method returned normally.
	Invoked  []string
	Failures []Failure
}

// Fail records a failure.
func (r *Report) Fail(f Failure) {
	r.Failures = append(r.Failures, f)
}

// OK reports whether the unit finished without recorded failures.
func (r *Report) OK() bool {
	return r == nil || len(r.Failures) == 0
}

// Err joins the recorded failures, or returns nil.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}
