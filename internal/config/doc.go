// ABOUTME: Configuration package documentation
// ABOUTME: File format and defaults for the relay YAML config
// Package config loads the relay's YAML configuration.
//
// Every field has a default, so a file only needs the values it changes:
//
//	server:
//	  port: 8080
//	  forward_mode: raw
//	auth:
//	  token: change-me
//	logging:
//	  level: debug
package config
