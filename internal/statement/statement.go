// Package statement turns the extracted text of a merchant processing
// statement into validated pricing fields and sales insights.
package statement

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Data holds the fields read from one statement. Rates are fractions and
// percentages are on the 0-100 scale.
type Data struct {
	MonthlyVolume        float64   `json:"monthlyVolume"`
	AverageTicket        float64   `json:"averageTicket"`
	TransactionCount     float64   `json:"transactionCount"`
	BusinessType         string    `json:"businessType"`
	Industry             string    `json:"industry"`
	TransactionBreakdown Breakdown `json:"transactionBreakdown"`
	CurrentProcessor     Processor `json:"currentProcessor"`
	AdditionalCosts      Costs     `json:"additionalCosts"`
	StatementPeriod      Period    `json:"statementPeriod"`
	Confidence           float64   `json:"confidence"`
}

type Breakdown struct {
	CreditCardVolume       float64 `json:"creditCardVolume"`
	DebitCardVolume        float64 `json:"debitCardVolume"`
	KeyedVolume            float64 `json:"keyedVolume"`
	EcommerceVolume        float64 `json:"ecommerceVolume"`
	CardPresentPercentage  float64 `json:"cardPresentPercentage"`
	QualifiedPercentage    float64 `json:"qualifiedPercentage"`
	MidQualifiedPercentage float64 `json:"midQualifiedPercentage"`
	NonQualifiedPercentage float64 `json:"nonQualifiedPercentage"`
}

type Processor struct {
	Name              string  `json:"name"`
	QualifiedRate     float64 `json:"qualifiedRate"`
	MidQualifiedRate  float64 `json:"midQualifiedRate"`
	NonQualifiedRate  float64 `json:"nonQualifiedRate"`
	DebitRate         float64 `json:"debitRate"`
	AuthFee           float64 `json:"authFee"`
	MonthlyFee        float64 `json:"monthlyFee"`
	StatementFee      float64 `json:"statementFee"`
	BatchFee          float64 `json:"batchFee"`
	KeyedUpcharge     float64 `json:"keyedUpcharge"`
	EcommerceUpcharge float64 `json:"ecommerceUpcharge"`
	EquipmentLease    float64 `json:"equipmentLease"`
	GatewayFee        float64 `json:"gatewayFee"`
	PCIFee            float64 `json:"pciFee"`
	RegulatoryFee     float64 `json:"regulatoryFee"`
}

type Costs struct {
	HardwareCosts    float64 `json:"hardwareCosts"`
	SoftwareFees     float64 `json:"softwareFees"`
	SupportFees      float64 `json:"supportFees"`
	InstallationFees float64 `json:"installationFees"`
}

type Period struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// Parsed is Data plus a record of what the sanitisers had to change.
type Parsed struct {
	Data      Data     `json:"data"`
	Defaulted []string `json:"defaulted"`
	Dropped   []string `json:"dropped"`
}

const dateLayout = "2006-01-02"

var (
	fenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

	knownKeys = map[string]bool{
		"monthlyVolume": true, "averageTicket": true, "transactionCount": true,
		"businessType": true, "industry": true, "transactionBreakdown": true,
		"currentProcessor": true, "additionalCosts": true, "statementPeriod": true,
		"confidence": true,
	}
)

// Parse decodes an oracle response. Missing or malformed fields fall back
// to industry defaults; the returned lists name every field that did.
// An error means the response held no JSON object at all.
func Parse(raw string, now time.Time) (Parsed, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return Parsed{}, err
	}

	s := &sanitizer{}
	tb := s.object(obj, "transactionBreakdown")
	cp := s.object(obj, "currentProcessor")
	ac := s.object(obj, "additionalCosts")
	sp := s.object(obj, "statementPeriod")
	today := now.UTC().Format(dateLayout)

	d := Data{
		MonthlyVolume:    s.number(obj, "monthlyVolume", 0),
		AverageTicket:    s.number(obj, "averageTicket", 0),
		TransactionCount: s.number(obj, "transactionCount", 0),
		BusinessType:     s.text(obj, "businessType", "retail"),
		Industry:         s.text(obj, "industry", "general_retail"),
		TransactionBreakdown: Breakdown{
			CreditCardVolume:       s.number(tb, "transactionBreakdown.creditCardVolume", 0),
			DebitCardVolume:        s.number(tb, "transactionBreakdown.debitCardVolume", 0),
			KeyedVolume:            s.number(tb, "transactionBreakdown.keyedVolume", 0),
			EcommerceVolume:        s.number(tb, "transactionBreakdown.ecommerceVolume", 0),
			CardPresentPercentage:  s.number(tb, "transactionBreakdown.cardPresentPercentage", 90),
			QualifiedPercentage:    s.number(tb, "transactionBreakdown.qualifiedPercentage", 70),
			MidQualifiedPercentage: s.number(tb, "transactionBreakdown.midQualifiedPercentage", 20),
			NonQualifiedPercentage: s.number(tb, "transactionBreakdown.nonQualifiedPercentage", 10),
		},
		CurrentProcessor: Processor{
			Name:              s.text(cp, "currentProcessor.name", "Unknown Processor"),
			QualifiedRate:     s.rate(cp, "currentProcessor.qualifiedRate", 0.0289),
			MidQualifiedRate:  s.rate(cp, "currentProcessor.midQualifiedRate", 0.0325),
			NonQualifiedRate:  s.rate(cp, "currentProcessor.nonQualifiedRate", 0.0389),
			DebitRate:         s.rate(cp, "currentProcessor.debitRate", 0.0095),
			AuthFee:           s.number(cp, "currentProcessor.authFee", 0.15),
			MonthlyFee:        s.number(cp, "currentProcessor.monthlyFee", 25),
			StatementFee:      s.number(cp, "currentProcessor.statementFee", 10),
			BatchFee:          s.number(cp, "currentProcessor.batchFee", 0.25),
			KeyedUpcharge:     s.number(cp, "currentProcessor.keyedUpcharge", 0.20),
			EcommerceUpcharge: s.number(cp, "currentProcessor.ecommerceUpcharge", 0.10),
			EquipmentLease:    s.optional(cp, "currentProcessor.equipmentLease"),
			GatewayFee:        s.optional(cp, "currentProcessor.gatewayFee"),
			PCIFee:            s.optional(cp, "currentProcessor.pciFee"),
			RegulatoryFee:     s.optional(cp, "currentProcessor.regulatoryFee"),
		},
		AdditionalCosts: Costs{
			HardwareCosts:    s.optional(ac, "additionalCosts.hardwareCosts"),
			SoftwareFees:     s.optional(ac, "additionalCosts.softwareFees"),
			SupportFees:      s.optional(ac, "additionalCosts.supportFees"),
			InstallationFees: s.optional(ac, "additionalCosts.installationFees"),
		},
		StatementPeriod: Period{
			StartDate: s.date(sp, "statementPeriod.startDate", today),
			EndDate:   s.date(sp, "statementPeriod.endDate", today),
		},
		Confidence: s.confidence(obj),
	}

	for k := range obj {
		if !knownKeys[k] {
			s.dropped = append(s.dropped, k)
		}
	}
	sort.Strings(s.dropped)

	if err := validateData(d); err != nil {
		return Parsed{}, err
	}
	return Parsed{Data: d, Defaulted: nonNil(s.defaulted), Dropped: nonNil(s.dropped)}, nil
}

// decodeObject strips a Markdown fence and any prose around the outermost
// JSON object, then decodes it with numbers kept as json.Number.
func decodeObject(raw string) (map[string]any, error) {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); len(m) > 1 {
		s = m[1]
	}
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in oracle response (raw: %s)", truncate(raw, 200))
	}

	dec := json.NewDecoder(strings.NewReader(s[start : end+1]))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("parse statement json: %w (raw: %s)", err, truncate(raw, 200))
	}
	return obj, nil
}

type sanitizer struct {
	defaulted []string
	dropped   []string
}

// object returns the nested object at key. A missing or non-object value
// yields an empty map, so every field inside it takes its default.
func (s *sanitizer) object(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

func leaf(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func (s *sanitizer) number(m map[string]any, path string, def float64) float64 {
	v := m[leaf(path)]
	if _, ok := parseNumber(v); !ok {
		s.defaulted = append(s.defaulted, path)
	}
	return ToNumberOrDefault(v, def)
}

func (s *sanitizer) rate(m map[string]any, path string, def float64) float64 {
	v := m[leaf(path)]
	if _, ok := parseNumber(v); !ok {
		s.defaulted = append(s.defaulted, path)
	}
	return ToRateOrDefault(v, def)
}

// optional is a number whose absence is normal and not recorded.
func (s *sanitizer) optional(m map[string]any, path string) float64 {
	v, present := m[leaf(path)]
	if _, ok := parseNumber(v); present && v != nil && !ok {
		s.defaulted = append(s.defaulted, path)
	}
	return ToNumberOrDefault(v, 0)
}

func (s *sanitizer) text(m map[string]any, path, def string) string {
	if v, ok := m[leaf(path)].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	s.defaulted = append(s.defaulted, path)
	return def
}

func (s *sanitizer) date(m map[string]any, path, def string) string {
	if v, ok := m[leaf(path)].(string); ok {
		if _, err := time.Parse(dateLayout, strings.TrimSpace(v)); err == nil {
			return strings.TrimSpace(v)
		}
	}
	s.defaulted = append(s.defaulted, path)
	return def
}

// confidence treats a zero or missing value as unreported. Values on a
// 0-100 scale are read like rates, so 85 becomes 0.85.
func (s *sanitizer) confidence(m map[string]any) float64 {
	v := m["confidence"]
	f, ok := parseNumber(v)
	if !ok || f == 0 {
		s.defaulted = append(s.defaulted, "confidence")
		return 0.7
	}
	return ToRateOrDefault(v, 0.7)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

const dataSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "amount": {"type": "number", "minimum": 0},
    "rate": {"type": "number", "minimum": 0, "maximum": 1},
    "percent": {"type": "number", "minimum": 0}
  },
  "type": "object",
  "required": ["monthlyVolume", "businessType", "industry", "transactionBreakdown", "currentProcessor", "statementPeriod", "confidence"],
  "properties": {
    "monthlyVolume": {"$ref": "#/definitions/amount"},
    "averageTicket": {"$ref": "#/definitions/amount"},
    "transactionCount": {"$ref": "#/definitions/amount"},
    "businessType": {"type": "string", "minLength": 1},
    "industry": {"type": "string", "minLength": 1},
    "transactionBreakdown": {
      "type": "object",
      "properties": {
        "cardPresentPercentage": {"$ref": "#/definitions/percent"},
        "qualifiedPercentage": {"$ref": "#/definitions/percent"},
        "midQualifiedPercentage": {"$ref": "#/definitions/percent"},
        "nonQualifiedPercentage": {"$ref": "#/definitions/percent"}
      }
    },
    "currentProcessor": {
      "type": "object",
      "required": ["name", "qualifiedRate", "midQualifiedRate", "nonQualifiedRate", "debitRate"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "qualifiedRate": {"$ref": "#/definitions/rate"},
        "midQualifiedRate": {"$ref": "#/definitions/rate"},
        "nonQualifiedRate": {"$ref": "#/definitions/rate"},
        "debitRate": {"$ref": "#/definitions/rate"},
        "authFee": {"$ref": "#/definitions/amount"},
        "monthlyFee": {"$ref": "#/definitions/amount"},
        "statementFee": {"$ref": "#/definitions/amount"},
        "batchFee": {"$ref": "#/definitions/amount"}
      }
    },
    "statementPeriod": {
      "type": "object",
      "required": ["startDate", "endDate"],
      "properties": {
        "startDate": {"type": "string", "format": "date"},
        "endDate": {"type": "string", "format": "date"}
      }
    },
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var dataSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	if err := c.AddResource("statement.json", strings.NewReader(dataSchemaJSON)); err != nil {
		panic(err)
	}
	return c.MustCompile("statement.json")
}()

func validateData(d Data) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if err := dataSchema.Validate(v); err != nil {
		return fmt.Errorf("statement fields failed validation: %w", err)
	}
	return nil
}
