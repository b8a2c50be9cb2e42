// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package report_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/plugbox/internal/plugin/report"
)

func TestReport_NilIsOK(t *testing.T) {
	var r *report.Report
	assert.True(t, r.OK())
	assert.NoError(t, r.Err())
}

func TestReport_ErrJoinsFailures(t *testing.T) {
	r := &report.Report{}
	r.Fail(report.Failure{Module: "A", Stage: report.StageResolve, Message: "not found"})
	r.Fail(report.Failure{Module: "A", Endpoint: "Greeter", Stage: report.StageInvoke, Message: "boom"})

	require.False(t, r.OK())
	err := r.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve A: not found")
	assert.Contains(t, err.Error(), "invoke A.Greeter: boom")
}
