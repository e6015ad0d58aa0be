// Package slicingtest is the exception slicing conformance server.
//
// Two processes take part. The server hosts TestIntf and knows the shared
// types plus its own; clients know the shared types plus theirs and host a
// Relay service the server calls back for the relay scenarios:
//
//	client ──TestIntf.RelayX──► server ──Relay.X──► client's Relay
//	  ▲                           │                       │
//	  └──── re-raised typed ◄─────┘◄──── client types ────┘
//
// Neither side knows the other's private types, so every scenario exercises
// slicing, preservation or both.
package slicingtest

import (
	"embed"
	"github.com/go-faster/errors"
	"slice-rpc/exception"
)

//go:embed schema/*.yaml
var schemas embed.FS

func load(names ...string) (*exception.Hierarchy, error) {
	docs := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := schemas.ReadFile("schema/" + name)
		if err != nil {
			return nil, errors.Wrap(err, "embedded schema")
		}
		docs = append(docs, data)
	}
	return exception.ParseSchemas(docs...)
}

// ServerTypes returns the server's knowledge set.
func ServerTypes() (*exception.Hierarchy, error) { return load("shared.yaml", "server.yaml") }

// ClientTypes returns a client's knowledge set.
func ClientTypes() (*exception.Hierarchy, error) { return load("shared.yaml", "client.yaml") }

// SharedTypes returns the types both sides know.
func SharedTypes() (*exception.Hierarchy, error) { return load("shared.yaml") }
