package fingerprint

import "regexp"

// DefaultCode is the sentinel assigned when no classification rule
// matches. A var, not a const: a loaded classification-table override may
// replace it alongside Table at process start.
var DefaultCode = "10999"

// Rule is one entry in the ordered classification table: the first rule
// whose Patterns contains a match wins, regardless of how many later rules
// would also match.
type Rule struct {
	Code        string
	Patterns    []*regexp.Regexp
	Description string
}

// Table is the ordered error classification table. Order governs
// precedence for overlapping patterns; this is config, not logic — callers
// needing county-specific overrides load a replacement table via
// pkg/config rather than editing this one.
var Table = []Rule{
	{
		Code:        "01256",
		Description: "required field missing from parcel record",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)required field .* (missing|not present)`),
			regexp.MustCompile(`(?i)missing required (column|field|attribute)`),
		},
	},
	{
		Code:        "01299",
		Description: "field present but fails type or format validation",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)invalid (format|type) for field`),
			regexp.MustCompile(`(?i)could not parse value`),
		},
	},
	{
		Code:        "23456",
		Description: "county configuration lookup failed",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)no configuration found for county`),
			regexp.MustCompile(`(?i)unknown county jurisdiction`),
		},
	},
	{
		Code:        "23499",
		Description: "address normalization failed",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)unable to normalize address`),
			regexp.MustCompile(`(?i)address not found in jurisdiction index`),
		},
	},
	{
		Code:        "34567",
		Description: "transform script execution error",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)transform script (failed|raised|threw)`),
			regexp.MustCompile(`(?i)script execution error`),
		},
	},
	{
		Code:        "34599",
		Description: "schema validation failure on submit",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)schema validation failed`),
			regexp.MustCompile(`(?i)does not conform to schema`),
		},
	},
	{
		Code:        "45678",
		Description: "blob store access failure",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(access denied|no such key|no such bucket)`),
			regexp.MustCompile(`(?i)s3[:.].*(timeout|timed out|unreachable)`),
		},
	},
	{
		Code:        "56789",
		Description: "transient downstream service error",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(connection reset|connection refused|broken pipe)`),
			regexp.MustCompile(`(?i)(throttl|rate limit)ed?`),
		},
	},
}

// Classify maps a free-form error message to its numeric code using Table,
// returning DefaultCode when no rule matches.
func Classify(message string) string {
	for _, rule := range Table {
		for _, pattern := range rule.Patterns {
			if pattern.MatchString(message) {
				return rule.Code
			}
		}
	}
	return DefaultCode
}
