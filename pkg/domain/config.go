package common

// WorkerConfig identifies this process within the sharded worker fleet and sets the
// cadence of its per-session turn pump.
type WorkerConfig struct {
	WorkerID        string
	ShardCount      int
	Port            string
	TurnIntervalMS  int
}

// AdminConfig gates operator-only endpoints (e.g. kicking a player) behind a
// static shared-secret header, since issuing/validating admin privilege tokens is an
// out-of-scope external collaborator.
type AdminConfig struct {
	HeaderName string
	Token      string
}

// AuthConfig holds the bits needed to *verify* bearer tokens issued elsewhere. This
// module never issues tokens.
type AuthConfig struct {
	JWTIssuer       string
	JWTJWKSURL      string
	TurnstileSecret string
}

type MongoDBConfig struct {
	URI    string
	DBName string
}

type KafkaConfig struct {
	BootstrapServers string
}

// ArchiveConfig selects which ArchiveSink adapter the Archive dispatcher binds to.
type ArchiveConfig struct {
	Backend string // "memory" | "objectstore"
}

type MatchmakingConfig struct {
	ExternalMatchmakerURL string
}

type Config struct {
	Worker      WorkerConfig
	Admin       AdminConfig
	Auth        AuthConfig
	MongoDB     MongoDBConfig
	Kafka       KafkaConfig
	Archive     ArchiveConfig
	Matchmaking MatchmakingConfig
}
