package kafka

// Topic constants, grounded on the teacher's pkg/infra/kafka/events.go naming style
// (dot-segmented, domain-prefixed) but scoped to this server's two event families.
const (
	// TopicArchiveRequests carries SessionRecord archival requests so the turn pump's
	// End() never blocks on the configured ArchiveSink.
	TopicArchiveRequests = "sessions.archive.requests"

	// TopicRankedLifecycle names the topic for ticket/match lifecycle events. No
	// component in this module publishes to it; the in-process WebSocket fan-out does
	// not go through Kafka.
	TopicRankedLifecycle = "ranked.lifecycle.events"
)

// Ranked lifecycle event types for TopicRankedLifecycle (not published by this module).
const (
	EventTypeTicketQueued    = "TICKET_QUEUED"
	EventTypeMatchProposed   = "MATCH_PROPOSED"
	EventTypeMatchReady      = "MATCH_READY"
	EventTypeMatchCancelled  = "MATCH_CANCELLED"
	EventTypeMatchCompleted  = "MATCH_COMPLETED"
)
