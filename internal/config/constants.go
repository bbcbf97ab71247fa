package config

import "time"

const (
	// Store backends
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"

	// Parameter names under PARAM_PREFIX
	CatalogParameterSuffix     = "/rooms"
	TwilioTokenParameterSuffix = "/twilio-token"

	// Server timeouts
	ReadHeaderTimeout = 5 * time.Second
	ShutdownTimeout   = 15 * time.Second
)
