// Package manifest decodes, validates, and fingerprints the self-declared
// JSON descriptors that participating domains publish at
// /.well-known/oap.json. Decoding happens exactly once at the trust boundary;
// everything downstream operates on the typed Manifest, never on raw maps.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// WellKnownPath is the fixed path every participant serves its manifest from.
const WellKnownPath = "/.well-known/oap.json"

// Manifest is the typed form of a published descriptor.
type Manifest struct {
	Identity     Identity      `json:"identity"`
	Builder      Builder       `json:"builder"`
	Capabilities Capabilities  `json:"capabilities"`
	Pricing      Pricing       `json:"pricing"`
	Trust        Trust         `json:"trust"`
	Verification *Verification `json:"verification,omitempty"`
}

type Identity struct {
	Name        string `json:"name"`
	Tagline     string `json:"tagline"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

type Builder struct {
	Name    string   `json:"name"`
	URL     string   `json:"url,omitempty"`
	Domains []string `json:"domains,omitempty"`
}

type Capabilities struct {
	Summary         string   `json:"summary"`
	Solves          []string `json:"solves"`
	IdealFor        []string `json:"ideal_for"`
	Categories      []string `json:"categories"`
	Differentiators []string `json:"differentiators"`
}

type Pricing struct {
	Model string `json:"model"`
	Trial Trial  `json:"trial"`
}

type Trial struct {
	Available bool `json:"available"`
}

type Trust struct {
	DataPractices       DataPractices `json:"data_practices"`
	Security            Security      `json:"security"`
	ExternalConnections []string      `json:"external_connections"`
}

type DataPractices struct {
	Collects   []string `json:"collects"`
	StoresIn   string   `json:"stores_in"`
	SharesWith []string `json:"shares_with"`
}

type Security struct {
	Authentication []string `json:"authentication"`
}

type Verification struct {
	HealthEndpoint string `json:"health_endpoint,omitempty"`
}

// Decode parses raw manifest bytes into the typed form. A type mismatch
// anywhere in the document is a decode error; shape problems beyond typing
// are reported by Validate.
func Decode(data []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
