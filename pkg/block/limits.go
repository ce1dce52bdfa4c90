package block

import "time"

// Block-level limits (defense-in-depth; the shard worker should respect
// tighter policies)
const (
	MaxBlockTxs   = 5000
	MaxBlockBytes = 16 << 20 // 16 MiB aggregate payload
)

type Config struct {
	MaxTxsPerBlock int
	MaxBlockBytes  int
	MinPendingTxs  int
	BuildInterval  time.Duration
}

// DefaultConfig returns conservative block building defaults
func DefaultConfig() Config {
	return Config{
		MaxTxsPerBlock: 500,
		MaxBlockBytes:  4 << 20,
		MinPendingTxs:  1,
		BuildInterval:  2 * time.Second,
	}
}
