package ui

import (
	"fmt"
	"html"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/verinews/pkg/security"
	"github.com/go-go-golems/verinews/pkg/verify"
	"github.com/microcosm-cc/bluemonday"
	"github.com/muesli/reflow/truncate"
	"github.com/rs/zerolog/log"
)

const DefaultSnippetWidth = 200

type RenderOptions struct {
	// Width wraps the explanation. Zero means 80 columns.
	Width int
	// Styled enables colors and markdown rendering.
	Styled bool
	// MaxSources limits the listed sources. Zero lists all of them.
	MaxSources   int
	SnippetWidth int
	Style        *Style
}

var textPolicy = bluemonday.StrictPolicy()

// sanitize strips markup from text returned by the verification service.
func sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// RenderResult renders a verdict for the terminal: badge and confidence,
// conclusion, explanation, sources with their distinct domains, and timings.
func RenderResult(result *verify.Result, opts RenderOptions) string {
	if result == nil {
		return ""
	}
	if opts.Width <= 0 {
		opts.Width = 80
	}
	if opts.SnippetWidth <= 0 {
		opts.SnippetWidth = DefaultSnippetWidth
	}
	if opts.Style == nil {
		opts.Style = DefaultStyles()
	}
	st := opts.Style
	paint := func(style func() string, plain string) string {
		if opts.Styled {
			return style()
		}
		return plain
	}

	var b strings.Builder

	verdict := string(result.Verdict)
	badge := paint(func() string {
		return st.Badges[result.Verdict.Tone()].Render(strings.ToUpper(verdict))
	}, "["+strings.ToUpper(verdict)+"]")
	b.WriteString(badge)
	if !result.IsError() {
		fmt.Fprintf(&b, " Confidence: %s", formatPercent(result.Confidence))
	}
	b.WriteString("\n")

	if c := sanitize(result.Conclusion); c != "" {
		b.WriteString(paint(func() string { return st.Conclusion.Render(c) }, c))
		b.WriteString("\n")
	}

	if e := sanitize(result.Explanation); e != "" {
		b.WriteString("\n")
		b.WriteString(renderMarkdown(e, opts))
		b.WriteString("\n")
	}

	sources := result.Sources
	if len(sources) > 0 {
		fmt.Fprintf(&b, "\nSources (%d)", len(sources))
		if domains := result.SourceDomains(); len(domains) > 0 {
			line := "from " + strings.Join(domains, ", ")
			b.WriteString(" ")
			b.WriteString(paint(func() string { return st.Meta.Render(line) }, line))
		}
		b.WriteString(":\n")
		for i, s := range sources {
			if opts.MaxSources > 0 && i >= opts.MaxSources {
				fmt.Fprintf(&b, "  ... and %d more\n", len(sources)-i)
				break
			}
			b.WriteString(renderSource(i+1, s, opts))
		}
	}

	if t := result.Timings; t != nil {
		total := t.Analysis + t.Database + t.Scraping
		line := fmt.Sprintf("Analysis %.2fs · Database %.2fs · Scraping %.2fs · Total %.2fs",
			t.Analysis, t.Database, t.Scraping, total)
		b.WriteString("\n")
		b.WriteString(paint(func() string { return st.Meta.Render(line) }, line))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderSource(n int, s verify.Source, opts RenderOptions) string {
	st := opts.Style
	var b strings.Builder

	title := sanitize(s.Title)
	domain := s.Host()
	if title == "" {
		title = domain
	}
	if opts.Styled {
		title = st.Source.Render(title)
	}
	fmt.Fprintf(&b, "  %d. %s", n, title)
	if domain != "" {
		fmt.Fprintf(&b, " (%s)", domain)
	}
	fmt.Fprintf(&b, " %s", formatPercent(s.Confidence))
	if s.Authoritative != nil && *s.Authoritative {
		b.WriteString(" [verified]")
	}
	b.WriteString("\n")

	if link, ok := security.SafeLinkURL(s.URL); ok {
		if opts.Styled {
			link = st.Link.Render(link)
		}
		fmt.Fprintf(&b, "     %s\n", link)
	}

	if snippet := sanitize(s.Snippet); snippet != "" {
		snippet = truncate.StringWithTail(strings.Join(strings.Fields(snippet), " "), uint(opts.SnippetWidth), "…")
		if opts.Styled {
			snippet = st.Snippet.Render(snippet)
		}
		fmt.Fprintf(&b, "     \"%s\"\n", snippet)
	}
	return b.String()
}

func renderMarkdown(md string, opts RenderOptions) string {
	if !opts.Styled {
		return wrapWords(md, opts.Width)
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(opts.Width),
	)
	if err != nil {
		log.Debug().Err(err).Msg("could not create markdown renderer")
		return wrapWords(md, opts.Width)
	}
	out, err := r.Render(md)
	if err != nil {
		log.Debug().Err(err).Msg("could not render explanation")
		return wrapWords(md, opts.Width)
	}
	return strings.Trim(out, "\n")
}

func formatPercent(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d%%", int64(v))
	}
	return fmt.Sprintf("%.1f%%", v)
}
