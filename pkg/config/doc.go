// Package config holds Pandorabox configuration.
//
// Configuration is split into sections (session, ai, server, store) registered with a
// Manager and persisted by a Store. FileStore keeps them in a YAML file, by default
// ~/.pandorabox/config.yaml. ApplyEnv overlays environment variables after the file is
// loaded, so deployments can be configured through the environment alone.
package config
