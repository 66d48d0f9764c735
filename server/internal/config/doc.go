// Package config loads the server configuration from a YAML file and the
// environment.
//
// Config sections:
//   - server: http_port (8080), grpc_port (50051), allow_origins ("*"), auth
//   - ingest: interval (60s), fetch_timeout (20s), concurrency (8),
//     stop_timeout (5s), sources_path (webcams.json)
//   - store:  redis_url, dial_timeout (2s), result_ttl (0, no expiry)
//   - hub:    send_timeout (2s), buffer_size (16)
//   - alerts: rules (name, condition, severity, cooldown), webhooks (type, url_env),
//     public_url
//
// Load(path) applies defaults, unmarshals the file when path is non-empty,
// applies environment overrides (REDIS_URL, FETCH_INTERVAL_SEC,
// WEBCAMS_CONFIG_PATH, ALLOW_ORIGINS), then validates.
package config
