// Package auth provides API-key authentication for the microclimate server.
//
// A Policy{Mode, Header, Key} is shared by both listeners:
//   - APIKeyInterceptor and APIKeyStreamInterceptor guard the gRPC health
//     service, reading the key from the named metadata header.
//   - APIKeyMiddleware guards the HTTP API and WebSocket endpoint, reading the
//     key from the header or the api_key query parameter.
//
// When Mode != "apikey" or Key == "", all calls pass through (useful for local
// development with auth disabled). Keys are compared in constant time.
package auth
