package netutils

import (
	"crypto/tls"
	"net/http"
	"time"
)

const DefaultTimeout = 30 * time.Second

// NewClient returns an http.Client for talking to farmd. With insecure set
// it skips certificate verification, for self-signed controllers.
func NewClient(insecure bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Transport: transport,
		Timeout:   DefaultTimeout,
	}
}
