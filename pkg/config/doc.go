// Package config provides configuration management for the relay.
//
// Configuration is read from a YAML file, completed with defaults and then
// overridden from the environment:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("relay.yaml")
//
// # Environment Variable Overrides
//
// Variables follow the naming convention RELAY_SECTION_FIELD, for example:
//
//   - RELAY_PROXY_LISTEN_ADDRESS overrides proxy.listen_address
//   - RELAY_BACKENDS_CHATGPT_ENABLED overrides backends.chatgpt.enabled
//   - RELAY_ATTACHMENTS_DRIVER overrides attachments.driver
//   - RELAY_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Backend secrets (session tokens, cookie jars, API keys) are never stored in
// the configuration itself. Sections name a secret, and the secrets package
// resolves it from RELAY_SECRET_<NAME> or from the configured secret directory.
//
// # Global Configuration
//
// Initialize installs a process-wide configuration that GetConfig returns.
// Components receive explicit *Config values; the singleton exists for the
// command layer.
package config
