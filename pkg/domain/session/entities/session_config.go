package entities

// SessionConfig describes how a session is set up and how it may be played. It is
// owned by the session: mutable (partially) while the session is in Lobby, frozen the
// moment the session transitions to Active.
type SessionConfig struct {
	Map               string   `json:"map" bson:"map"`
	MapSize           string   `json:"map_size" bson:"map_size"`
	Difficulty        string   `json:"difficulty" bson:"difficulty"`
	Mode              string   `json:"mode" bson:"mode"`
	GameType          GameType `json:"game_type" bson:"game_type"`
	BotCount          int      `json:"bot_count" bson:"bot_count"`
	MaxPlayers        int      `json:"max_players" bson:"max_players"`
	DisabledUnits     []string `json:"disabled_units,omitempty" bson:"disabled_units,omitempty"`
	TeamAssignments   map[string]string `json:"team_assignments,omitempty" bson:"team_assignments,omitempty"`

	InfiniteGold     bool `json:"infinite_gold" bson:"infinite_gold"`
	DonateGold       bool `json:"donate_gold" bson:"donate_gold"`
	DonateTroops     bool `json:"donate_troops" bson:"donate_troops"`
	InstantBuild     bool `json:"instant_build" bson:"instant_build"`
	RandomSpawn      bool `json:"random_spawn" bson:"random_spawn"`

	PreStartTimerSeconds   int `json:"pre_start_timer_seconds,omitempty" bson:"pre_start_timer_seconds,omitempty"`
	SpawnImmunitySeconds   int `json:"spawn_immunity_seconds,omitempty" bson:"spawn_immunity_seconds,omitempty"`

	AllowedExternalIDs []string `json:"allowed_external_ids,omitempty" bson:"allowed_external_ids,omitempty"`
	RequiredRoles      []string `json:"required_roles,omitempty" bson:"required_roles,omitempty"`
}

type GameType string

const (
	GameTypePublic       GameType = "public"
	GameTypePrivate      GameType = "private"
	GameTypeSingleplayer GameType = "single"
)

// ApplyPartial merges the non-empty string, non-zero int and non-empty slice fields
// of patch onto cfg and always copies the boolean toggles (InfiniteGold, DonateGold,
// DonateTroops, InstantBuild, RandomSpawn) from patch, so a patch that omits a toggle
// clears it. GameType is never copied; a patch that would flip a private game public
// is refused.
func (cfg *SessionConfig) ApplyPartial(patch SessionConfig) error {
	if cfg.GameType == GameTypePrivate && patch.GameType == GameTypePublic {
		return errVisibilityDowngrade
	}

	if patch.Map != "" {
		cfg.Map = patch.Map
	}
	if patch.MapSize != "" {
		cfg.MapSize = patch.MapSize
	}
	if patch.Difficulty != "" {
		cfg.Difficulty = patch.Difficulty
	}
	if patch.Mode != "" {
		cfg.Mode = patch.Mode
	}
	if patch.BotCount != 0 {
		cfg.BotCount = patch.BotCount
	}
	if patch.MaxPlayers != 0 {
		cfg.MaxPlayers = patch.MaxPlayers
	}
	if len(patch.DisabledUnits) > 0 {
		cfg.DisabledUnits = patch.DisabledUnits
	}
	if len(patch.TeamAssignments) > 0 {
		cfg.TeamAssignments = patch.TeamAssignments
	}

	cfg.InfiniteGold = patch.InfiniteGold
	cfg.DonateGold = patch.DonateGold
	cfg.DonateTroops = patch.DonateTroops
	cfg.InstantBuild = patch.InstantBuild
	cfg.RandomSpawn = patch.RandomSpawn

	return nil
}
