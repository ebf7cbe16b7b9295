// Package framework provides the small integration harness SPEC_FULL's
// test-tooling section promises: a real engine context wired against a
// throwaway temp directory, for the handful of tests that exercise
// more than one package at a time (volume build, container roundtrip).
// Grounded on the teacher's test/framework pattern of spinning up a
// real cluster against a scratch data directory, scaled down to a
// single in-process engine.Context since portod has no cluster to join.
package framework

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/portod/pkg/config"
	"github.com/cuemby/portod/pkg/engine"
)

// NewEngine builds a fresh engine.Context rooted at a t.TempDir(),
// torn down automatically when the test completes. Safe to call once
// per test; each call gets its own isolated place directory so tests
// never share container/volume state.
func NewEngine(t *testing.T) *engine.Context {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.DefaultPlace = dir
	cfg.Places = []string{dir}

	eng, err := engine.New(cfg)
	require.NoError(t, err, "build engine context")
	return eng
}
