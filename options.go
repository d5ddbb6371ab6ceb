package ldb

import "go.uber.org/zap"

// DefaultMemTableSize is the arena capacity a MemTable is given when Options
// leaves MemTableSize unset.
const DefaultMemTableSize = 64 << 20

// Options configures a DB's memtable and manifest construction. It mirrors
// the small Options/functional-option struct calvinalkan-agent-task exposes
// its tunables through, rather than a config-file loader — loading
// configuration from disk is out of scope here.
type Options struct {
	// MemTableSize is an arena capacity, in bytes, for memtables. Zero means
	// DefaultMemTableSize. NewMemTable takes its capacity as an argument and
	// does not read this field.
	MemTableSize int64

	// ManifestRewriteThreshold is forwarded to manifest.Options.RewriteThreshold;
	// zero means manifest.DefaultRewriteThreshold.
	ManifestRewriteThreshold uint32

	// Logger receives structured manifest events (replay, rewrite,
	// truncation). A nil Logger is treated as zap.NewNop().
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MemTableSize == 0 {
		o.MemTableSize = DefaultMemTableSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
