// Package auth hardens the HTTP surface of the sync engine.
//
// RateLimiter locks out callers that keep failing the peer signature check,
// so a leaked API key cannot be used to brute-force its secret.
// SecurityHeadersMiddleware sets the response headers every JSON endpoint carries.
package auth
