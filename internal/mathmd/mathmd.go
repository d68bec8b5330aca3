// Package mathmd converts chat markdown to HTML while keeping LaTeX math
// spans out of the markdown converter's reach. Math segments are swapped
// for collision-free placeholder tokens, the rest of the text goes through
// goldmark and a bluemonday sanitization pass, and the original math markup
// is then restored verbatim so the browser-side typesetter still sees its
// delimiters.
package mathmd

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	ghtml "github.com/yuin/goldmark/renderer/html"
)

// mathPattern recognizes the four delimiter pairs in priority order:
// $$...$$, \[...\], $...$, \(...\). Go's regexp picks alternatives
// leftmost-first, so block delimiters win over inline ones and $$a$$
// is never split into two stray-$ inline matches. All matches are
// non-greedy; inline spans do not cross line breaks.
var mathPattern = regexp.MustCompile(
	`\$\$[\s\S]+?\$\$` +
		`|\\\[[\s\S]+?\\\]` +
		`|\$[^$\n]+?\$` +
		`|\\\([^\n]+?\\\)`,
)

type placeholder struct {
	token    string
	original string
}

// Pipeline is the markdown+math renderer. Safe for concurrent use.
type Pipeline struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func New() *Pipeline {
	return &Pipeline{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(ghtml.WithHardWraps()),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Render converts accumulated chat text to sanitized HTML with math spans
// preserved. It is idempotent over the input text: the same text always
// yields the same HTML, so it can run on every received stream fragment.
// An unterminated delimiter is simply left as literal text; it will be
// re-evaluated once later fragments complete it.
func (p *Pipeline) Render(text string) (string, error) {
	protected, placeholders := protect(text)

	var buf bytes.Buffer
	if err := p.md.Convert([]byte(protected), &buf); err != nil {
		return "", fmt.Errorf("mathmd: markdown convert: %w", err)
	}

	out := p.policy.Sanitize(buf.String())

	return restore(out, placeholders), nil
}

// protect replaces every math span with a placeholder token that cannot
// collide with text content and cannot be altered by the markdown
// converter (letters and digits only). The trailing Z keeps tokens
// prefix-free: without it the token for span 1 is a prefix of the token
// for span 10 and restore would corrupt it.
func protect(text string) (string, []placeholder) {
	matches := mathPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	nonce := newNonce(text)

	placeholders := make([]placeholder, 0, len(matches))
	i := 0
	protected := mathPattern.ReplaceAllStringFunc(text, func(m string) string {
		token := fmt.Sprintf("MATH%sX%dZ", nonce, i)
		placeholders = append(placeholders, placeholder{token: token, original: m})
		i++
		return token
	})

	return protected, placeholders
}

// newNonce returns an alphanumeric nonce that does not occur in text.
func newNonce(text string) string {
	for {
		nonce := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
		if !strings.Contains(text, nonce) {
			return nonce
		}
	}
}

// mathEscaper escapes only the characters that would break HTML structure.
// The typesetter reads the DOM text content, so the delimiters and body of
// each math span come through exactly as written.
var mathEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

func restore(html string, placeholders []placeholder) string {
	for _, ph := range placeholders {
		html = strings.ReplaceAll(html, ph.token, mathEscaper.Replace(ph.original))
	}
	return html
}
