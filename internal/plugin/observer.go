// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"log/slog"

	"github.com/holomush/plugbox/internal/plugin/domain"
	"github.com/holomush/plugbox/internal/plugin/report"
	"github.com/holomush/plugbox/pkg/errutil"
)

// Observer receives diagnostics that the public lifecycle surface does not
// return: per-module and per-endpoint failures recorded inside a context.
type Observer interface {
	// ContextCreated is called after a context is allocated.
	ContextCreated(label string)
	// UnitCompleted is called after every RunInside, with the unit's report
	// (may be nil) and the boundary-level error (may be nil).
	UnitCompleted(label string, unit domain.Unit, rep *report.Report, err error)
	// ContextDestroyed is called after every teardown attempt.
	ContextDestroyed(label string, err error)
}

// Observers fans events out to several observers.
type Observers []Observer

// ContextCreated implements Observer.
func (o Observers) ContextCreated(label string) {
	for _, obs := range o {
		obs.ContextCreated(label)
	}
}

// UnitCompleted implements Observer.
func (o Observers) UnitCompleted(label string, unit domain.Unit, rep *report.Report, err error) {
	for _, obs := range o {
		obs.UnitCompleted(label, unit, rep, err)
	}
}

// ContextDestroyed implements Observer.
func (o Observers) ContextDestroyed(label string, err error) {
	for _, obs := range o {
		obs.ContextDestroyed(label, err)
	}
}

// LogObserver writes observer events to a structured logger.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver. A nil logger means slog.Default().
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

// ContextCreated implements Observer.
func (o *LogObserver) ContextCreated(label string) {
	o.logger.Debug("context created", "label", label)
}

// UnitCompleted implements Observer.
func (o *LogObserver) UnitCompleted(label string, unit domain.Unit, rep *report.Report, err error) {
	logger := o.logger.With("label", label, "unit", string(unit))
	if err != nil {
		errutil.LogError(logger, "unit failed", err)
	}
	if rep == nil {
		return
	}
	for _, f := range rep.Failures {
		logger.Warn("module failure",
			"module", f.Module,
			"endpoint", f.Endpoint,
			"stage", string(f.Stage),
			"error", f.Message)
	}
	logger.Debug("unit completed",
		"loaded", rep.Loaded,
		"invoked", rep.Invoked,
		"failures", len(rep.Failures))
}

// ContextDestroyed implements Observer.
func (o *LogObserver) ContextDestroyed(label string, err error) {
	if err != nil {
		errutil.LogError(o.logger.With("label", label), "context teardown failed", err)
		return
	}
	o.logger.Debug("context destroyed", "label", label)
}
