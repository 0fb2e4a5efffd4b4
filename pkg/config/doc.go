// Package config loads the YAML node configuration.
//
// A file is decoded over Default, so only the settings that differ need to
// be present. Validate applies struct tag constraints and the cross-field
// rules, such as a broker for the MQTT link or a parseable policy table.
// The builder methods translate the file into the settings of the
// dispatcher, replay guard, secure session and management core.
package config
