package filemeta

import (
	"time"

	"github.com/mwantia/filemeta/internal/logging"
	"github.com/mwantia/filemeta/pathutil"
	"github.com/mwantia/filemeta/plugin"
	"github.com/mwantia/filemeta/storage"
	"github.com/mwantia/filemeta/storage/memstore"
)

// CachePolicy names an eviction strategy for the index registry's
// resident record cache (spec.md §5). The value is stored in the
// Manager's configuration only: the registry keeps every record
// resident under every policy, so CachePolicyLRU and CachePolicyLFU
// behave like CachePolicyNone and no record is evicted.
type CachePolicy string

const (
	CachePolicyNone CachePolicy = "none"
	CachePolicyLRU  CachePolicy = "lru"
	CachePolicyLFU  CachePolicy = "lfu"
)

type config struct {
	backend         storage.Backend
	caseInsensitive bool
	maxCacheSize    int
	cachePolicy     CachePolicy
	pluginTimeout   time.Duration
	pluginErrorMode plugin.ErrorMode
	conflictPolicy  plugin.ConflictPolicy
	logger          *logging.Logger
	syncRoots       []string
	indexFields     []string
}

func newDefaultConfig() *config {
	return &config{
		backend:         memstore.New(),
		maxCacheSize:    0,
		cachePolicy:     CachePolicyNone,
		pluginTimeout:   5 * time.Second,
		pluginErrorMode: plugin.ErrorModeWarn,
		conflictPolicy:  plugin.ConflictPriority,
		logger:          logging.NewLogger("filemeta", logging.Info, "", false),
	}
}

// Option configures a Manager at construction, grounded on
// mwantia-vfs's VirtualFileSystemOption idiom.
type Option func(*config) error

// WithStorageBackend selects the persistence layer. Defaults to an
// in-memory backend when unset.
func WithStorageBackend(b storage.Backend) Option {
	return func(c *config) error {
		c.backend = b
		return nil
	}
}

// WithCaseInsensitiveFS folds every canonical path to lowercase, for
// filesystems that don't distinguish case (spec.md §4.A).
func WithCaseInsensitiveFS() Option {
	return func(c *config) error {
		c.caseInsensitive = true
		return nil
	}
}

// WithMaxCacheSize records a bound on the number of resident record
// bodies. The value is stored but not enforced; see CachePolicy.
func WithMaxCacheSize(n int) Option {
	return func(c *config) error {
		c.maxCacheSize = n
		return nil
	}
}

// WithCachePolicy sets the record eviction policy (spec.md §5). No
// policy evicts records; see CachePolicy.
func WithCachePolicy(p CachePolicy) Option {
	return func(c *config) error {
		c.cachePolicy = p
		return nil
	}
}

// WithPluginTimeout bounds how long a single plugin's Extract may run
// before being treated as failed (spec.md §4.F).
func WithPluginTimeout(d time.Duration) Option {
	return func(c *config) error {
		c.pluginTimeout = d
		return nil
	}
}

// WithPluginErrorMode selects how plugin failures are classified.
func WithPluginErrorMode(m plugin.ErrorMode) Option {
	return func(c *config) error {
		c.pluginErrorMode = m
		return nil
	}
}

// WithConflictPolicy selects how multiple matching plugins' outputs are
// combined.
func WithConflictPolicy(p plugin.ConflictPolicy) Option {
	return func(c *config) error {
		c.conflictPolicy = p
		return nil
	}
}

// WithLogger overrides the Manager's diagnostic logger. Absent a call to
// this option, a default stdout logger at Info level is used.
func WithLogger(l *logging.Logger) Option {
	return func(c *config) error {
		c.logger = l
		return nil
	}
}

// WithSyncRoots sets the default filesystem roots walked by Sync when
// no explicit roots are passed to it. Absent a call to this option, the
// roots default to the distinct parent directories of every currently
// indexed path (spec.md §4.I).
func WithSyncRoots(roots ...string) Option {
	return func(c *config) error {
		c.syncRoots = roots
		return nil
	}
}

// WithIndexFields pre-declares dotted fields as secondary indexes at
// construction time, equivalent to calling CreateIndex once per field
// on an empty Manager.
func WithIndexFields(fields ...string) Option {
	return func(c *config) error {
		c.indexFields = fields
		return nil
	}
}

func (c *config) pathOptions() pathutil.Options {
	return pathutil.Options{CaseInsensitive: c.caseInsensitive}
}
