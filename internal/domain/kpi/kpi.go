// Package kpi defines the financial KPI record extracted from tabular
// input and the checks applied to it.
package kpi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/rrh1441/agentops-replay/internal/domain"
)

// EBITDATolerance is the absolute tolerance used when checking the
// EBITDA identity against its components.
const EBITDATolerance = 0.01

// KPIs is the numeric record a model call is expected to produce.
type KPIs struct {
	Revenue   float64  `json:"revenue"`
	COGS      float64  `json:"cogs"`
	Opex      float64  `json:"opex"`
	EBITDA    float64  `json:"ebitda"`
	YoYGrowth *float64 `json:"year_over_year_growth,omitempty"`
}

// ExpectedEBITDA returns revenue - cogs - opex.
func (k KPIs) ExpectedEBITDA() float64 {
	return k.Revenue - k.COGS - k.Opex
}

// ValidEBITDA reports whether the reported EBITDA matches its
// components within EBITDATolerance.
func (k KPIs) ValidEBITDA() bool {
	return math.Abs(k.EBITDA-k.ExpectedEBITDA()) < EBITDATolerance
}

// schemaDoc constrains the shape of a model's KPI payload. Extra keys
// (margins, commentary) are allowed and ignored.
const schemaDoc = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["revenue", "cogs", "opex", "ebitda"],
	"properties": {
		"revenue": {"type": "number"},
		"cogs": {"type": "number"},
		"opex": {"type": "number"},
		"ebitda": {"type": "number"},
		"year_over_year_growth": {"type": ["number", "null"]}
	}
}`

var schema = jsonschema.MustCompileString("kpis.schema.json", schemaDoc)

// Parse validates raw against the KPI schema and decodes it. The raw
// document may carry extra fields; only the schema-checked ones are
// decoded.
func Parse(raw []byte) (*KPIs, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: kpi payload is not JSON: %v", domain.ErrValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: kpi payload rejected by schema: %v", domain.ErrValidation, err)
	}

	var k KPIs
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("%w: decode kpi payload: %v", domain.ErrValidation, err)
	}
	return &k, nil
}
