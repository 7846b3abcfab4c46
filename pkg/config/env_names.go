package config

// EnvPrefix is passed to envconfig; variable names carry the full
// TISTIS_ prefix in their struct tags, so the prefix itself stays empty.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvDBDSN  = "TISTIS_DB_DSN"
	EnvDBHost = "TISTIS_DB_HOST"
	EnvDBUser = "TISTIS_DB_USER"
	EnvDBName = "TISTIS_DB_NAME"

	EnvGateWebhookSecret = "TISTIS_GATE_WEBHOOK_SECRET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
