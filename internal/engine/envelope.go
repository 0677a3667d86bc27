package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/switchboard-data/switchboard/internal/value"
)

// Envelope is the JSON command shape accepted by document and key-value
// engines in place of SQL, e.g.
//
//	{"operation":"find","collection":"users","filter":{"name":"$1"}}
//	{"operation":"set","key":"$1","value":"$2","ttl_seconds":60}
//
// Placeholders "$N" reference bound parameters positionally.
type Envelope struct {
	Operation  string                 `json:"operation"`
	Collection string                 `json:"collection,omitempty"`
	Key        string                 `json:"key,omitempty"`
	Value      interface{}            `json:"value,omitempty"`
	Filter     map[string]interface{} `json:"filter,omitempty"`
	Document   map[string]interface{} `json:"document,omitempty"`
	Update     map[string]interface{} `json:"update,omitempty"`
	Pattern    string                 `json:"pattern,omitempty"`
	Limit      int                    `json:"limit,omitempty"`
	TTLSeconds int                    `json:"ttl_seconds,omitempty"`
}

// ParseEnvelope decodes a command envelope and substitutes bound
// parameters into placeholder positions. Substitution is structural:
// placeholder strings are replaced by typed values, never spliced into
// text.
func ParseEnvelope(command string, params []value.Value) (*Envelope, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(command)), &raw); err != nil {
		return nil, fmt.Errorf("invalid command envelope: %w", err)
	}

	substituted, err := substituteNode(raw, params)
	if err != nil {
		return nil, err
	}

	// Round-trip through JSON to land in the typed envelope.
	buf, err := json.Marshal(substituted)
	if err != nil {
		return nil, fmt.Errorf("invalid command envelope: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, fmt.Errorf("invalid command envelope: %w", err)
	}
	if env.Operation == "" {
		return nil, fmt.Errorf("command envelope missing operation")
	}
	return &env, nil
}

func substituteNode(node interface{}, params []value.Value) (interface{}, error) {
	switch n := node.(type) {
	case string:
		ord := envelopeOrdinal(n)
		if ord == 0 {
			return n, nil
		}
		if ord > len(params) {
			return nil, fmt.Errorf("placeholder $%d has no bound parameter", ord)
		}
		return params[ord-1].Native(), nil
	case []interface{}:
		out := make([]interface{}, len(n))
		for i, e := range n {
			sub, err := substituteNode(e, params)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(n))
		for k, e := range n {
			sub, err := substituteNode(e, params)
			if err != nil {
				return nil, err
			}
			out[k] = sub
		}
		return out, nil
	}
	return node, nil
}
