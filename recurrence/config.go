package recurrence

// Config holds tuning options for the recurrence engine.
type Config struct {
	// MaxOccurrences caps how many occurrences a single event may
	// generate in one expansion pass. Rules without UNTIL or COUNT
	// expanded over a huge window hit this cap and surface
	// ErrExpansionLimit instead of blocking unboundedly.
	MaxOccurrences int
}

// DefaultConfig provides sensible defaults for production use.
var DefaultConfig = Config{
	MaxOccurrences: 3000,
}

// StrictConfig is tuned for interactive paths where a runaway rule
// should fail fast.
var StrictConfig = Config{
	MaxOccurrences: 500,
}
