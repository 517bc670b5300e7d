// Package server is the HTTP and WebSocket edge of the service.
//
// Each WebSocket connection becomes a Client owned by the Hub. Clients feed
// their frames to the coordinator one at a time and receive outbound frames
// through a bounded buffer. The same gin engine serves the live session REST
// API, private history, presence, health and a browser test page.
//
// Configuration is process-wide: SetConfig installs it and NewClient, New
// and the origin check read it.
package server
