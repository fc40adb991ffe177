/*
Package config loads process configuration.

Values start from Default, are overlaid by an optional YAML or TOML file, and
finally by environment variables:

	SB_MAX_PIPES=32 SB_HK_INTERVAL=1s PORT=9000 softbus -config softbus.yaml
*/
package config
