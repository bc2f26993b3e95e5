// Package server implements the WebSocket connection multiplexer.
//
// A Server binds the listening address and upgrades incoming HTTP requests
// to WebSocket connections. Each connection becomes a Client with its own
// read and write goroutines, registered in the Hub under a random ClientID.
// The host application polls the Hub once per tick for inbound messages and
// lifecycle events, and sends with SendTo or Broadcast at any time.
package server
