// Package config defines the single validated configuration of a registry
// client.
//
// A Config is built once at startup, either in code from Default or with
// Load from a YAML file plus REGISTRY_ environment overrides, and is
// rejected at that point if it is inconsistent. Credential values may be
// secret references (see package secret); Load resolves them.
//
// Environment variables use the lowercased key path with dots replaced by
// underscores, for example REGISTRY_PRIMARYENDPOINT or
// REGISTRY_AUTH_CLIENTSECRET.
package config
