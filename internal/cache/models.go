// Package cache holds the optional warm-start cache of fitted models.
package cache

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"time"

	"github.com/freshretail/freshcast/internal/analytics/forecast"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Key identifies a fitted model. A model is reusable only when the entity,
// the regressor toggles and the training data version all match.
type Key struct {
	Entity  string
	Toggles string
	Version string
}

func (k Key) String() string {
	return k.Entity + "|" + k.Toggles + "|" + k.Version
}

// ModelCache is a size- and TTL-bounded LRU of fitted models. Cached models
// are never mutated after Fit, so readers may predict from them concurrently.
type ModelCache struct {
	lru *expirable.LRU[Key, *forecast.FittedModel]
}

// NewModelCache creates a cache holding at most size models for ttl each.
func NewModelCache(size int, ttl time.Duration) *ModelCache {
	return &ModelCache{lru: expirable.NewLRU[Key, *forecast.FittedModel](size, nil, ttl)}
}

// Get returns a cached model.
func (c *ModelCache) Get(key Key) (*forecast.FittedModel, bool) {
	return c.lru.Get(key)
}

// Put stores a fitted model.
func (c *ModelCache) Put(key Key, model *forecast.FittedModel) {
	c.lru.Add(key, model)
}

// Len returns the number of live entries.
func (c *ModelCache) Len() int {
	return c.lru.Len()
}

// Purge drops every entry.
func (c *ModelCache) Purge() {
	c.lru.Purge()
}

// DataVersion fingerprints a history table: last date, row count and a
// checksum over dates, targets and regressor values. Any change to the
// training data yields a new version.
func DataVersion(h forecast.History) string {
	hash := fnv.New64a()
	buf := make([]byte, 8)
	write := func(v uint64) {
		binary.LittleEndian.PutUint64(buf, v)
		_, _ = hash.Write(buf)
	}

	for _, r := range h {
		write(uint64(r.Date.Unix()))
		write(math.Float64bits(r.Target))
		for _, name := range sortedKeys(r.Regressors) {
			_, _ = hash.Write([]byte(name))
			write(math.Float64bits(r.Regressors[name]))
		}
	}

	return fmt.Sprintf("%s:%d:%016x", h.LastDate().Format(forecast.DateLayout), len(h), hash.Sum64())
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
