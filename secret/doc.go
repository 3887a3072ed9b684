// Package secret resolves registry credentials named in configuration.
//
// A credential field may hold a literal, an ${ENV} expansion, or a
// reference of the form secretref:<provider>:<ref>:
//
//	auth:
//	  clientSecret: secretref:env:REGISTRY_CLIENT_SECRET
//	  staticToken: ${REGISTRY_TOKEN}
//	signing:
//	  key: secretref:file:/run/secrets/registry-signing-key
//
// DefaultRegistry builds the env and file providers; Resolver.ResolveFields
// rewrites a set of fields in place.
package secret
