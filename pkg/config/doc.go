// Package config defines the engine's YAML configuration.
//
// Loading follows a fixed sequence: parse the file, apply defaults,
// apply WARDEN_SECTION_FIELD environment overrides, validate. A missing
// config file is not an error; the defaults describe a fully working
// single-machine setup.
package config
