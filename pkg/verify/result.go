package verify

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// Verdict is the categorical outcome of a verification.
type Verdict string

const (
	VerdictTrue      Verdict = "True"
	VerdictFalse     Verdict = "False"
	VerdictPartial   Verdict = "Partial"
	VerdictUncertain Verdict = "Uncertain"
	VerdictUnknown   Verdict = "Unknown"
	VerdictError     Verdict = "Error"
)

// Known reports whether the verdict is one of the values the service documents.
func (v Verdict) Known() bool {
	switch v {
	case VerdictTrue, VerdictFalse, VerdictPartial, VerdictUncertain, VerdictUnknown, VerdictError:
		return true
	}
	return false
}

// Tone maps a verdict onto the three display tones used by every surface.
// The service sometimes answers with free-form verdicts ("Mostly True"), so
// matching is by substring, false winning over true.
func (v Verdict) Tone() string {
	s := strings.ToLower(string(v))
	switch {
	case strings.Contains(s, "error"):
		return "error"
	case strings.Contains(s, "partial"):
		return "partial"
	case strings.Contains(s, "false"):
		return "negative"
	case strings.Contains(s, "true"):
		return "positive"
	}
	return "neutral"
}

// Source is a piece of evidence returned alongside a verdict.
type Source struct {
	Title         string  `json:"title" yaml:"title"`
	URL           string  `json:"url" yaml:"url"`
	Domain        string  `json:"domain" yaml:"domain"`
	Confidence    float64 `json:"confidence" yaml:"confidence"`
	Snippet       string  `json:"snippet" yaml:"snippet"`
	Support       string  `json:"support,omitempty" yaml:"support,omitempty"`
	Reason        string  `json:"reason,omitempty" yaml:"reason,omitempty"`
	Relevant      *bool   `json:"relevant,omitempty" yaml:"relevant,omitempty"`
	Authoritative *bool   `json:"authoritative,omitempty" yaml:"authoritative,omitempty"`
}

// Timings reports how long each backend stage took, in seconds.
type Timings struct {
	Analysis float64 `json:"analysis" yaml:"analysis"`
	Database float64 `json:"database" yaml:"database"`
	Scraping float64 `json:"scraping" yaml:"scraping"`
}

// Result is the payload of a verifier node. It is stored verbatim as returned
// by the verification service.
type Result struct {
	Verdict     Verdict  `json:"verdict" yaml:"verdict"`
	Confidence  float64  `json:"confidence" yaml:"confidence"`
	Conclusion  string   `json:"conclusion" yaml:"conclusion"`
	Explanation string   `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	Sources     []Source `json:"sources" yaml:"sources"`
	Timings     *Timings `json:"timings,omitempty" yaml:"timings,omitempty"`
	ClaimID     string   `json:"claim_id,omitempty" yaml:"claim_id,omitempty"`
}

// NewErrorResult builds the result attached to a failed verification.
func NewErrorResult(conclusion string) *Result {
	return &Result{
		Verdict:    VerdictError,
		Confidence: 0,
		Conclusion: conclusion,
		Sources:    []Source{},
	}
}

// IsError reports whether the result stands for a failed verification.
func (r *Result) IsError() bool {
	return r != nil && r.Verdict == VerdictError
}

// Host is the domain of the source, taken from Domain or else from URL.
func (s Source) Host() string {
	if d := ExtractDomain(s.Domain); d != "" {
		return d
	}
	return ExtractDomain(s.URL)
}

// UniqueSources returns the sources with duplicate domains removed, keeping
// the first occurrence of each. Sources without a domain are never merged.
func (r *Result) UniqueSources() []Source {
	if r == nil {
		return nil
	}
	seen := make(map[string]bool, len(r.Sources))
	ret := make([]Source, 0, len(r.Sources))
	for _, s := range r.Sources {
		d := s.Host()
		if d != "" && seen[d] {
			continue
		}
		seen[d] = true
		ret = append(ret, s)
	}
	return ret
}

// SourceDomains lists the distinct source domains in order of appearance.
func (r *Result) SourceDomains() []string {
	var ret []string
	for _, s := range r.UniqueSources() {
		if d := s.Host(); d != "" {
			ret = append(ret, d)
		}
	}
	return ret
}

var domainRe = regexp.MustCompile(`([\w-]+\.[\w.-]+)`)

// ExtractDomain turns a URL or bare domain into a host name without "www.".
func ExtractDomain(urlOrDomain string) string {
	if urlOrDomain == "" {
		return ""
	}
	if !strings.Contains(urlOrDomain, "://") && !strings.Contains(urlOrDomain, "/") {
		return urlOrDomain
	}
	if u, err := url.Parse(urlOrDomain); err == nil && u.Hostname() != "" {
		return strings.TrimPrefix(u.Hostname(), "www.")
	}
	if m := domainRe.FindStringSubmatch(urlOrDomain); m != nil {
		return strings.TrimPrefix(m[1], "www.")
	}
	return urlOrDomain
}

const resultSchemaJSON = `{
  "type": "object",
  "required": ["verdict", "confidence"],
  "properties": {
    "verdict": {"type": "string", "minLength": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "conclusion": {"type": "string"},
    "explanation": {"type": ["string", "null"]},
    "sources": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "title": {"type": ["string", "null"]},
          "url": {"type": ["string", "null"]},
          "domain": {"type": ["string", "null"]},
          "confidence": {"type": ["number", "null"]},
          "snippet": {"type": ["string", "null"]}
        }
      }
    },
    "timings": {"type": ["object", "null"]},
    "claim_id": {"type": ["string", "integer", "null"]}
  }
}`

var (
	resultSchemaOnce sync.Once
	resultSchema     *gojsonschema.Schema
	resultSchemaErr  error
)

func compiledResultSchema() (*gojsonschema.Schema, error) {
	resultSchemaOnce.Do(func() {
		resultSchema, resultSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(resultSchemaJSON))
	})
	return resultSchema, resultSchemaErr
}

// DecodeResult parses a verification response body. Bodies missing the
// required verdict or confidence fields are rejected with ErrProtocol.
func DecodeResult(body []byte) (*Result, error) {
	schema, err := compiledResultSchema()
	if err != nil {
		return nil, errors.Wrap(err, "compiling result schema")
	}

	validation, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, errors.Wrapf(ErrProtocol, "unparsable response body: %v", err)
	}
	if !validation.Valid() {
		msgs := make([]string, 0, len(validation.Errors()))
		for _, e := range validation.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, errors.Wrapf(ErrProtocol, "invalid response: %s", strings.Join(msgs, "; "))
	}

	var raw struct {
		Result
		ClaimID json.RawMessage `json:"claim_id"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrapf(ErrProtocol, "decoding response: %v", err)
	}

	ret := raw.Result
	ret.ClaimID = decodeClaimID(raw.ClaimID)
	if ret.Sources == nil {
		ret.Sources = []Source{}
	}
	return &ret, nil
}

// claim_id is a string on some deployments and an integer on others.
func decodeClaimID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
