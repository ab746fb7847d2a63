package ports

import "net/http"

// HTTPClient sends control socket requests. An *http.Client whose transport
// dials the socket satisfies it; tests substitute a stub.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
