package httputil

import (
	"net/http"
	"time"
)

type Clients struct {
	API  *http.Client // realty API requests
	Page *http.Client // detail pages and photo downloads
}

func NewClients(apiTimeout time.Duration) *Clients {
	if apiTimeout <= 0 {
		apiTimeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4

	return &Clients{
		API: &http.Client{
			Timeout:   apiTimeout,
			Transport: transport,
		},
		Page: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}
