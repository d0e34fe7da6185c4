package session

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// PairingURI is the parsed form of a wc: pairing link. The dApp encodes the
// pairing topic, protocol version, relay protocol, and the symmetric key that
// encrypts everything exchanged on the pairing topic.
type PairingURI struct {
	Topic    string
	Version  int
	Protocol string
	SymKey   []byte
}

// ParseURI parses a pairing URI of the form
//
//	wc:{topic}@{version}?relay-protocol={protocol}&symKey={hex}
//
// Only protocol version 2 is accepted.
func ParseURI(raw string) (PairingURI, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return PairingURI{}, fmt.Errorf("parsing pairing uri: %w", err)
	}
	if parsed.Scheme != "wc" {
		return PairingURI{}, fmt.Errorf("pairing uri has scheme %q, want wc", parsed.Scheme)
	}

	topic, versionPart, ok := strings.Cut(parsed.Opaque, "@")
	if !ok || topic == "" {
		return PairingURI{}, fmt.Errorf("pairing uri missing topic@version")
	}
	version, err := strconv.Atoi(versionPart)
	if err != nil {
		return PairingURI{}, fmt.Errorf("pairing uri has malformed version %q", versionPart)
	}
	if version != 2 {
		return PairingURI{}, fmt.Errorf("unsupported pairing protocol version %d", version)
	}

	query := parsed.Query()
	protocol := query.Get("relay-protocol")
	if protocol == "" {
		return PairingURI{}, fmt.Errorf("pairing uri missing relay-protocol")
	}

	symKey, err := hex.DecodeString(query.Get("symKey"))
	if err != nil {
		return PairingURI{}, fmt.Errorf("pairing uri has malformed symKey: %w", err)
	}
	if len(symKey) != symKeySize {
		return PairingURI{}, fmt.Errorf("pairing uri symKey is %d bytes, want %d", len(symKey), symKeySize)
	}

	return PairingURI{
		Topic:    topic,
		Version:  version,
		Protocol: protocol,
		SymKey:   symKey,
	}, nil
}
