package config

// EnvPrefix is handed to envconfig; every field carries its full variable name.
const EnvPrefix = "MARKETPLACE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv                 = "MARKETPLACE_APP_ENV"
	EnvPort                   = "MARKETPLACE_APP_PORT"
	EnvDBDSN                  = "MARKETPLACE_DB_DSN"
	EnvDBHost                 = "MARKETPLACE_DB_HOST"
	EnvDBUser                 = "MARKETPLACE_DB_USER"
	EnvDBName                 = "MARKETPLACE_DB_NAME"
	EnvRedisURL               = "MARKETPLACE_REDIS_URL"
	EnvJWTSecret              = "MARKETPLACE_JWT_SECRET"
	EnvJWTIssuer              = "MARKETPLACE_JWT_ISSUER"
	EnvGatewayWebhookSecret   = "MARKETPLACE_GATEWAY_WEBHOOK_SECRET"
	EnvCheckoutPriceTolerance = "MARKETPLACE_CHECKOUT_PRICE_TOLERANCE"
	EnvCheckoutShippingCost   = "MARKETPLACE_CHECKOUT_SHIPPING_COST"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
