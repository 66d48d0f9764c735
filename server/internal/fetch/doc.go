// Package fetch retrieves raw frame bytes from webcam sources over HTTP.
//
// A single Fetcher is shared by every source task in a cycle. It owns one
// *http.Client (bounded timeout, shared transport) and injects per-source
// authentication (basic, bearer, API key) from types.SourceAuth on each
// request via authRoundTripper.
//
// Fetch returns an error for transport failures, timeouts and any non-2xx
// status (ErrStatus); callers treat every error as "skip this source for this
// cycle". Response bodies larger than MaxBodyBytes are rejected.
package fetch
