package store

// Storage backends for session credentials.
const (
	ModeFile     = "file"
	ModeSQLite   = "sqlite"
	ModePostgres = "postgres"
)

// StoreConfig configures the store layer.
type StoreConfig struct {
	// Mode selects the session backend: "file" (default), "sqlite" or "postgres".
	Mode string

	// SessionsDir is the root directory for file-based sessions (one sub-directory per session id).
	SessionsDir string

	// SQLitePath is the database file used in sqlite mode.
	SQLitePath string

	// PostgresDSN is the Postgres connection string used in postgres mode.
	PostgresDSN string

	// EncryptionKey is the AES-256 key for sealing auth tokens at rest.
	// If empty, tokens are stored in plain text.
	EncryptionKey string
}

// EffectiveMode returns the configured mode, falling back to file storage.
func (c StoreConfig) EffectiveMode() string {
	switch c.Mode {
	case ModeSQLite, ModePostgres:
		return c.Mode
	default:
		return ModeFile
	}
}
