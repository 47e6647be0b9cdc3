// Package config loads, normalizes, and validates autorec configuration data.
//
// Configuration is TOML. A missing file is not an error: Load falls back to
// Default(), applies environment overrides for secrets (OPENAI_API_KEY and
// AUTOREC_WEBHOOK_TOKEN, optionally sourced from paths.env_file), expands
// home-relative paths, and validates the result. CreateSample writes an
// annotated starter file.
package config
