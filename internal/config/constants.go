package config

// Default paths for local state
const (
	// DefaultDatabasePath is the default path for the application database
	DefaultDatabasePath = "./authview.db"

	// DefaultTokenStorePath is where the CLI keeps its encrypted provider session
	DefaultTokenStorePath = "./authview-cli.db"
)

// Users table backends
const (
	UsersTableSQLite    = "sqlite"
	UsersTablePostgREST = "postgrest"
	UsersTableNone      = "none"
)

// Web session stores
const (
	SessionStoreSQLite = "sqlite"
	SessionStoreRedis  = "redis"
)
