package config

// EnvPrefix is handed to envconfig; every field carries an explicit name.
const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

const (
	EnvAppEnv           = "STOREFRONT_APP_ENV"
	EnvPort             = "STOREFRONT_APP_PORT"
	EnvLogLevel         = "STOREFRONT_LOG_LEVEL"
	EnvStorageBackend   = "STOREFRONT_STORAGE_BACKEND"
	EnvStorageNamespace = "STOREFRONT_STORAGE_NAMESPACE"
	EnvDBDSN            = "STOREFRONT_DB_DSN"
	EnvDBDriver         = "STOREFRONT_DB_DRIVER"
	EnvSQLitePath       = "STOREFRONT_SQLITE_PATH"
	EnvRedisURL         = "STOREFRONT_REDIS_URL"
	EnvRemoteBaseURL    = "STOREFRONT_REMOTE_BASE_URL"
	EnvRemoteTimeout    = "STOREFRONT_REMOTE_TIMEOUT"
	EnvRemoteRetries    = "STOREFRONT_REMOTE_MAX_RETRIES"
	EnvPricingShipping  = "STOREFRONT_PRICING_SHIPPING"
	EnvCORSOrigins      = "STOREFRONT_CORS_ALLOWED_ORIGINS"
)
