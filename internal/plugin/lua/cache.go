// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// DefaultCacheSize is the number of compiled chunks kept by a ChunkCache.
const DefaultCacheSize = 128

// ChunkCache compiles module files and keeps the resulting prototypes.
// A FunctionProto is immutable, so one cache may feed any number of states.
// A nil *ChunkCache compiles every time.
type ChunkCache struct {
	cache *lru.Cache[string, *lua.FunctionProto]
}

// NewChunkCache creates a cache holding up to size prototypes.
func NewChunkCache(size int) (*ChunkCache, error) {
	c, err := lru.New[string, *lua.FunctionProto](size)
	if err != nil {
		return nil, oops.In("lua").With("size", size).Wrap(err)
	}
	return &ChunkCache{cache: c}, nil
}

// Compile returns the prototype for the file at path. Entries are keyed by
// path, size and modification time, so an edited file is recompiled.
func (c *ChunkCache) Compile(path string) (*lua.FunctionProto, error) {
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, oops.In("lua").With("path", path).Hint("module not found").Wrap(err)
	}
	if info.IsDir() {
		return nil, oops.In("lua").With("path", path).Errorf("module path is a directory")
	}

	key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if c != nil {
		if proto, ok := c.cache.Get(key); ok {
			return proto, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.In("lua").With("path", path).Hint("module unreadable").Wrap(err)
	}
	chunk, err := parse.Parse(bytes.NewReader(data), path)
	if err != nil {
		return nil, oops.In("lua").With("path", path).Hint("syntax error").Wrap(err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, oops.In("lua").With("path", path).Hint("compile error").Wrap(err)
	}

	if c != nil {
		c.cache.Add(key, proto)
	}
	return proto, nil
}

// Len reports how many prototypes are cached.
func (c *ChunkCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
