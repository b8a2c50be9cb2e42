// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pluginlua "github.com/holomush/plugbox/internal/plugin/lua"
)

func stringsReader(s string) *strings.Reader { return strings.NewReader(s) }

func writeModule(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name+".lua")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func TestChunkCache_CompilesOnce(t *testing.T) {
	cache, err := pluginlua.NewChunkCache(4)
	require.NoError(t, err)
	path := writeModule(t, t.TempDir(), "a", `x = 1`)

	first, err := cache.Compile(path)
	require.NoError(t, err)
	second, err := cache.Compile(path)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.Len())
}

func TestChunkCache_RecompilesEditedFile(t *testing.T) {
	cache, err := pluginlua.NewChunkCache(4)
	require.NoError(t, err)
	path := writeModule(t, t.TempDir(), "a", `x = 1`)

	first, err := cache.Compile(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`x = 12345`), 0o600))
	later := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	second, err := cache.Compile(path)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestChunkCache_MissingFile(t *testing.T) {
	cache, err := pluginlua.NewChunkCache(4)
	require.NoError(t, err)

	_, err = cache.Compile(filepath.Join(t.TempDir(), "missing.lua"))
	require.Error(t, err)
}

func TestChunkCache_SyntaxError(t *testing.T) {
	cache, err := pluginlua.NewChunkCache(4)
	require.NoError(t, err)
	path := writeModule(t, t.TempDir(), "bad", `function (`)

	_, err = cache.Compile(path)
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len())
}

func TestChunkCache_NilCompilesWithoutCaching(t *testing.T) {
	var cache *pluginlua.ChunkCache
	path := writeModule(t, t.TempDir(), "a", `x = 1`)

	proto, err := cache.Compile(path)
	require.NoError(t, err)
	assert.NotNil(t, proto)
	assert.Equal(t, 0, cache.Len())
}

func TestNewChunkCache_InvalidSize(t *testing.T) {
	_, err := pluginlua.NewChunkCache(0)
	require.Error(t, err)
}
