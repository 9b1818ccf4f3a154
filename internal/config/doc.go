// Package config loads, normalizes, and validates scribe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DEEPGRAM_API_KEY and SCRIBE_DATABASE_URL. A `.env` file in the working
// directory is loaded first so local development does not need exported
// variables. The Config type centralizes every knob the daemon and CLI need:
// data directories, the keyed store backend, provider credentials, rate
// limits, and pipeline deadlines.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
