// Package monitor validates inbound order request bodies against a JSON
// schema before they reach the gateway factory.
package monitor

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// orderRequestSchema is the contract for POST /api/payments/orders bodies.
const orderRequestSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["amount", "currency", "userId"],
	"properties": {
		"amount": {"type": "number", "exclusiveMinimum": 0},
		"currency": {"type": "string", "pattern": "^[A-Z]{3}$"},
		"userId": {"type": "string", "minLength": 1},
		"metadata": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"preferUPI": {"type": "boolean"},
		"requireInternational": {"type": "boolean"},
		"excludeGateways": {
			"type": "array",
			"items": {"type": "string"}
		}
	},
	"additionalProperties": false
}`

// ContractMonitor validates request bodies against the order schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewContractMonitor compiles the embedded order request schema.
func NewContractMonitor() (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(orderRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("monitor: compile order request schema: %w", err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// Validate checks a request body against the schema. It returns whether the
// body is valid and, if not, the individual violation messages.
func (cm *ContractMonitor) Validate(requestBody []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(requestBody))
	if err != nil {
		return false, nil, fmt.Errorf("monitor: validate request: %w", err)
	}
	if result.Valid() {
		return true, nil, nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return false, violations, nil
}

// FormatErrors joins violation messages for a single-line error response.
func FormatErrors(violations []string) string {
	if len(violations) == 0 {
		return ""
	}
	return "validation errors: " + strings.Join(violations, "; ")
}
