package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/bingolive/go/internal/gateway"
)

func setupServer(gw *gateway.Service, port string) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
