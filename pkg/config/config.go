// Package config collects the tunables a host sets once when opening an
// index: a plain struct with zero-value defaults rather than a builder or
// a flag-parsing layer.
package config

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"

	"indextree/pkg/logging"
)

const (
	DefaultDegree       = 64
	DefaultPageSize     = 4096
	DefaultCacheNodes   = 1000
	DefaultMemoryBudget = 0 // 0 means unbounded
)

// Options configures an opened index end to end: on-disk layout, cache
// sizing, and the degree used by the tree engine. A zero-value Options is
// not usable as-is; call Defaults to fill in every unset field before
// passing it to a host's Open function.
type Options struct {
	// Path is the backing file. Empty means an in-memory-only index with
	// no pkg/pager store and therefore no eviction ceiling.
	Path string

	// PageSize is the fixed block size pkg/pager allocates nodes from.
	PageSize int

	// Degree bounds tree node fan-out (see pkg/tree.Config.Degree).
	Degree int

	// CacheNodes is the resident node count above which pkg/cache
	// attempts eviction.
	CacheNodes int

	// MemoryBudgetBytes bounds pkg/budget's tracked byte usage; 0 means
	// no budget is registered and CacheNodes is the only eviction trigger.
	MemoryBudgetBytes int64

	// ReadOnly makes Validate require that Path already exists. pkg/pager's
	// BlockStore does not act on it: the backing file is still opened
	// read-write and blocks can still be allocated.
	ReadOnly bool

	Logger logr.Logger
}

// Defaults returns a copy of o with every zero-valued tunable replaced by
// its default, and a Discard logger if none was set.
func (o Options) Defaults() Options {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Degree == 0 {
		o.Degree = DefaultDegree
	}
	if o.CacheNodes == 0 {
		o.CacheNodes = DefaultCacheNodes
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return o
}

// Validate reports the first structural problem with o, rejecting a bad
// Options eagerly at Open time rather than deep inside an allocation path.
func (o Options) Validate() error {
	if o.Degree < 3 {
		return fmt.Errorf("config: degree must be >= 3, got %d", o.Degree)
	}
	if o.PageSize <= 0 {
		return fmt.Errorf("config: page size must be positive, got %d", o.PageSize)
	}
	if o.Path != "" && o.ReadOnly {
		if _, err := os.Stat(o.Path); err != nil {
			return fmt.Errorf("config: read-only open requires an existing file: %w", err)
		}
	}
	return nil
}
