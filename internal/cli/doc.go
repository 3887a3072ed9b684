// Package cli implements the registryctl commands.
//
// Every command loads configuration from an optional YAML file and
// REGISTRY_* environment variables, builds a client.Client from it and
// closes it again before returning. Response bodies go to stdout; the
// correlation id and status go to stderr so output can be piped.
package cli
