package ui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/verinews/pkg/chat"
	"github.com/go-go-golems/verinews/pkg/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool {
	return &b
}

func TestRenderResultPlain(t *testing.T) {
	result := &verify.Result{
		Verdict:     verify.VerdictTrue,
		Confidence:  95,
		Conclusion:  "Confirmed by <b>several</b> outlets",
		Explanation: "The claim matches the reports.",
		Sources: []verify.Source{
			{Title: "First", URL: "https://www.example.com/a", Confidence: 80, Snippet: "<script>alert(1)</script>quoted text", Authoritative: boolPtr(true)},
			{Title: "Duplicate", URL: "https://example.com/b", Confidence: 70},
			{Title: "Sneaky", URL: "javascript:alert(1)", Domain: "sneaky.org", Confidence: 50.5},
		},
		Timings: &verify.Timings{Analysis: 1, Database: 0.5, Scraping: 1.5},
	}

	out := RenderResult(result, RenderOptions{Width: 60})

	assert.True(t, strings.HasPrefix(out, "[TRUE] Confidence: 95%"))
	assert.Contains(t, out, "Confirmed by several outlets")
	assert.Contains(t, out, "The claim matches the reports.")
	assert.Contains(t, out, "Sources (3) from example.com, sneaky.org:")
	assert.Contains(t, out, "1. First (example.com) 80% [verified]")
	assert.Contains(t, out, "https://www.example.com/a")
	assert.Contains(t, out, `"quoted text"`)
	assert.Contains(t, out, "2. Duplicate (example.com) 70%")
	assert.Contains(t, out, "3. Sneaky (sneaky.org) 50.5%")
	assert.NotContains(t, out, "javascript:")
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "Total 3.00s")
}

func TestRenderResultError(t *testing.T) {
	out := RenderResult(verify.NewErrorResult("Request timed out"), RenderOptions{})
	assert.Equal(t, "[ERROR]\nRequest timed out", out)
	assert.Equal(t, "", RenderResult(nil, RenderOptions{}))
}

func TestRenderResultListsEverySource(t *testing.T) {
	result := &verify.Result{
		Verdict:    verify.VerdictFalse,
		Confidence: 80,
		Sources: []verify.Source{
			{Title: "Wire story", URL: "https://www.reuters.com/a"},
			{Title: "Follow-up", Domain: "reuters.com"},
			{Title: "Press release"},
			{Title: "Court filing"},
		},
	}

	out := RenderResult(result, RenderOptions{})
	assert.Contains(t, out, "Sources (4) from reuters.com:")
	assert.Contains(t, out, "1. Wire story (reuters.com)")
	assert.Contains(t, out, "2. Follow-up (reuters.com)")
	assert.Contains(t, out, "3. Press release 0%")
	assert.Contains(t, out, "4. Court filing 0%")
}

func TestRenderResultMaxSources(t *testing.T) {
	result := &verify.Result{
		Verdict: verify.VerdictPartial,
		Sources: []verify.Source{
			{Title: "a", URL: "https://a.com"},
			{Title: "b", URL: "https://b.com"},
			{Title: "c", URL: "https://c.com"},
		},
	}
	out := RenderResult(result, RenderOptions{MaxSources: 1})
	assert.Contains(t, out, "1. a (a.com)")
	assert.Contains(t, out, "... and 2 more")
	assert.NotContains(t, out, "b.com")
}

func echoVerifier() verify.Verifier {
	return verify.VerifierFunc(func(ctx context.Context, claim string) (*verify.Result, error) {
		return &verify.Result{Verdict: verify.VerdictTrue, Confidence: 90, Conclusion: "ok: " + claim, Sources: []verify.Source{}}, nil
	})
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	ret, ok := next.(model)
	require.True(t, ok)
	return ret, cmd
}

func keyMsg(t tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: t}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newModel(t *testing.T, s *chat.Session) model {
	m := InitialModel(s)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	return m
}

func waitVerdict(t *testing.T, m model) model {
	t.Helper()
	require.NotNil(t, m.request)
	req := m.request
	_, _ = req.Wait()
	m, _ = update(t, m, verdictMsg{request: req})
	return m
}

func TestModelSubmit(t *testing.T) {
	s := chat.NewSession(echoVerifier())
	m := newModel(t, s)

	m, _ = update(t, m, runes("The earth is round"))
	assert.Contains(t, m.View(), "18/250")

	m, cmd := update(t, m, keyMsg(tea.KeyEnter))
	require.NotNil(t, cmd)
	assert.Equal(t, StateAwaitingVerdict, m.state)
	assert.Equal(t, "", m.textArea.Value())

	m = waitVerdict(t, m)
	assert.Equal(t, StateUserInput, m.state)
	assert.Nil(t, m.request)

	messages := s.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "The earth is round", messages[0].Text)
	assert.Contains(t, m.View(), "ok: The earth is round")
}

func TestModelRejectedClaimShowsError(t *testing.T) {
	s := chat.NewSession(echoVerifier(), chat.WithMaxClaimLength(5))
	m := newModel(t, s)

	m, _ = update(t, m, runes("far too long"))
	assert.Contains(t, m.View(), "too long")

	m, _ = update(t, m, keyMsg(tea.KeyEnter))
	assert.Equal(t, StateError, m.state)
	assert.Contains(t, m.View(), "claim is too long")
	assert.Equal(t, 0, s.Snapshot().Len())

	m, _ = update(t, m, keyMsg(tea.KeyEsc))
	assert.Equal(t, StateUserInput, m.state)
	assert.Nil(t, m.err)
}

func TestModelBranchCycleAndRestore(t *testing.T) {
	s := chat.NewSession(echoVerifier())
	ctx := context.Background()
	_, err := s.Submit(ctx, "first claim")
	require.NoError(t, err)
	userID := s.Messages()[0].ID
	_, err = s.SubmitEdit(ctx, userID, "second claim")
	require.NoError(t, err)
	require.Len(t, s.Messages(), 3)

	m := newModel(t, s)
	m, _ = update(t, m, keyMsg(tea.KeyEsc))
	require.Equal(t, StateMovingAround, m.state)
	assert.Equal(t, 2, m.selectedIdx)

	m, _ = update(t, m, keyMsg(tea.KeyUp))
	assert.Equal(t, 1, m.selectedIdx)
	assert.Contains(t, m.View(), "‹ 2/2 ›")

	m, _ = update(t, m, keyMsg(tea.KeyLeft))
	messages := s.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "ok: first claim", messages[1].Result.Conclusion)
	assert.True(t, s.HasBranchHistory())

	m, _ = update(t, m, keyMsg(tea.KeyCtrlZ))
	messages = s.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, "second claim", messages[1].Text)
	assert.False(t, s.HasBranchHistory())
	assert.Nil(t, m.err)
}

func TestModelEdit(t *testing.T) {
	s := chat.NewSession(echoVerifier())
	_, err := s.Submit(context.Background(), "original")
	require.NoError(t, err)

	m := newModel(t, s)
	m, _ = update(t, m, keyMsg(tea.KeyEsc))
	m, _ = update(t, m, keyMsg(tea.KeyUp))
	require.Equal(t, 0, m.selectedIdx)

	m, _ = update(t, m, runes("e"))
	require.Equal(t, StateEditing, m.state)
	assert.Equal(t, "original", m.textArea.Value())

	m.textArea.SetValue("corrected")
	m, _ = update(t, m, keyMsg(tea.KeyEnter))
	require.Equal(t, StateAwaitingVerdict, m.state)
	m = waitVerdict(t, m)

	messages := s.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, "original", messages[0].Text)
	assert.Equal(t, "corrected", messages[1].Text)
	assert.Equal(t, "ok: corrected", messages[2].Result.Conclusion)
}

func TestModelEditVerdictIsRefused(t *testing.T) {
	s := chat.NewSession(echoVerifier())
	_, err := s.Submit(context.Background(), "claim")
	require.NoError(t, err)

	m := newModel(t, s)
	m, _ = update(t, m, keyMsg(tea.KeyEsc))
	m, _ = update(t, m, runes("e"))
	assert.Equal(t, StateError, m.state)

	m, _ = update(t, m, keyMsg(tea.KeyEsc))
	assert.Equal(t, StateMovingAround, m.state)
}
