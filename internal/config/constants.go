package config

const (
	// DefaultDatabasePath is the default path for the sync database
	DefaultDatabasePath = "./sitesync.db"

	// DefaultAPIPrefix is the path segment between a peer's base URL and the domain path
	DefaultAPIPrefix = "api/remote/v1"
)
