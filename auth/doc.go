// Package auth provides the client's own credentials to the registry API.
//
// A TokenManager caches a bearer token and refreshes it through a
// TokenSource, usually a ClientCredentialsSource speaking the OAuth2
// client credentials grant with client_secret_basic, client_secret_post,
// client_secret_jwt or private_key_jwt client authentication. A Signer adds
// an HMAC request-integrity signature independent of the bearer token.
//
// End-user authentication is not handled here.
package auth
