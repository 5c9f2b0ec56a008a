package topic

import (
	"time"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/health"
)

// Config bundles the tunables the scheduler and writer need per topic
// (spec §4.6, §4.3, §4.5).
type Config struct {
	// MaxMessageSize bounds how large a single message payload may be;
	// also used by FileToc.HasContent as the corrupted-slot ceiling.
	MaxMessageSize uint32

	// IdleThreshold is how long a fully-flushed page must sit untouched
	// before the scheduler promotes it to its compressed cluster.
	IdleThreshold time.Duration

	// TickInterval is the scheduler's cooperative-task period (spec
	// §4.6 default: 1s).
	TickInterval time.Duration

	// SnapshotThresholdMessages is how far max_message_id must advance
	// past the last enqueued topics-snapshot write before another one
	// is due.
	SnapshotThresholdMessages int64

	// IndexHorizon bounds get_first_message_id_at_or_after scans.
	IndexHorizon time.Duration

	// NotifySnapshotDue is called synchronously from the scheduler's
	// tick when the topic crosses its snapshot threshold. May be nil.
	NotifySnapshotDue func(topicId string)

	// Health receives Halt() calls when a fatal, unrecoverable
	// object-store error is observed for this topic (spec §7). May be
	// nil, in which case fatal errors are only returned to the caller.
	Health *health.State
}

// DefaultConfig mirrors the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:            5 * 1024 * 1024,
		IdleThreshold:             5 * time.Minute,
		TickInterval:              time.Second,
		SnapshotThresholdMessages: 10000,
		IndexHorizon:              24 * time.Hour,
	}
}
