package verify

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		check   func(t *testing.T, r *Result)
	}{
		{
			name: "minimal",
			body: `{"verdict": "Uncertain", "confidence": 40}`,
			check: func(t *testing.T, r *Result) {
				assert.Equal(t, VerdictUncertain, r.Verdict)
				assert.NotNil(t, r.Sources)
				assert.Empty(t, r.Sources)
				assert.Nil(t, r.Timings)
			},
		},
		{
			name: "string claim id and optional source flags",
			body: `{"verdict": "False", "confidence": 12.5, "conclusion": "No", "claim_id": "abc",
				"sources": [{"title": "t", "url": "u", "domain": "d", "confidence": 3, "snippet": "s", "relevant": true, "authoritative": false}]}`,
			check: func(t *testing.T, r *Result) {
				assert.Equal(t, "abc", r.ClaimID)
				require.Len(t, r.Sources, 1)
				require.NotNil(t, r.Sources[0].Relevant)
				assert.True(t, *r.Sources[0].Relevant)
				require.NotNil(t, r.Sources[0].Authoritative)
				assert.False(t, *r.Sources[0].Authoritative)
			},
		},
		{name: "missing confidence", body: `{"verdict": "True"}`, wantErr: true},
		{name: "missing verdict", body: `{"confidence": 50}`, wantErr: true},
		{name: "confidence out of range", body: `{"verdict": "True", "confidence": 150}`, wantErr: true},
		{name: "confidence as string", body: `{"verdict": "True", "confidence": "high"}`, wantErr: true},
		{name: "not an object", body: `[1, 2, 3]`, wantErr: true},
		{name: "garbage", body: `{{{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := DecodeResult([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrProtocol))
				return
			}
			require.NoError(t, err)
			tt.check(t, r)
		})
	}
}

func TestVerdictTone(t *testing.T) {
	assert.Equal(t, "positive", VerdictTrue.Tone())
	assert.Equal(t, "negative", VerdictFalse.Tone())
	assert.Equal(t, "partial", VerdictPartial.Tone())
	assert.Equal(t, "partial", Verdict("Partially false").Tone())
	assert.Equal(t, "positive", Verdict("Mostly True").Tone())
	assert.Equal(t, "neutral", VerdictUncertain.Tone())
	assert.Equal(t, "error", VerdictError.Tone())
	assert.False(t, Verdict("Mostly True").Known())
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "", ExtractDomain(""))
	assert.Equal(t, "bbc.co.uk", ExtractDomain("bbc.co.uk"))
	assert.Equal(t, "nasa.gov", ExtractDomain("https://www.nasa.gov/sky?x=1"))
	assert.Equal(t, "example.org", ExtractDomain("example.org/path"))
}

func TestUniqueSources(t *testing.T) {
	r := &Result{Sources: []Source{
		{Title: "a", Domain: "nasa.gov"},
		{Title: "b", URL: "https://www.nasa.gov/other"},
		{Title: "c", Domain: "esa.int"},
	}}
	unique := r.UniqueSources()
	require.Len(t, unique, 2)
	assert.Equal(t, "a", unique[0].Title)
	assert.Equal(t, "c", unique[1].Title)
	assert.Equal(t, []string{"nasa.gov", "esa.int"}, r.SourceDomains())
}

func TestUniqueSourcesKeepsSourcesWithoutDomain(t *testing.T) {
	r := &Result{Sources: []Source{
		{Title: "a", Domain: "reuters.com"},
		{Title: "b", URL: "https://www.reuters.com/x"},
		{Title: "c"},
		{Title: "d"},
	}}
	unique := r.UniqueSources()
	require.Len(t, unique, 3)
	assert.Equal(t, "c", unique[1].Title)
	assert.Equal(t, "d", unique[2].Title)
	assert.Equal(t, []string{"reuters.com"}, r.SourceDomains())
}

func TestNewErrorResult(t *testing.T) {
	r := NewErrorResult("Failed to verify claim.")
	assert.True(t, r.IsError())
	assert.Equal(t, 0.0, r.Confidence)
	assert.NotNil(t, r.Sources)
	assert.Empty(t, r.Sources)
}
