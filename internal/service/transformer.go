package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/trawlhq/trawl-api/internal/models"
)

// Transformer turns a fetched page into the formats a scrape asked for. The
// LLM-backed formats (json, summary) come from an external collaborator; the
// default StaticTransformer leaves them empty.
type Transformer interface {
	Transform(ctx context.Context, doc *models.Document, opts *models.ScrapeOptions) error
}

// StaticTransformer derives html, text, and a plain markdown rendering from
// the raw HTML, honoring include/exclude tag filters and only_main_content.
type StaticTransformer struct{}

// NewStaticTransformer creates the default transformer.
func NewStaticTransformer() *StaticTransformer {
	return &StaticTransformer{}
}

var collapseWhitespace = regexp.MustCompile(`[ \t]+`)
var collapseNewlines = regexp.MustCompile(`\n{3,}`)

// Transform fills the requested format fields on doc. doc.RawHTML must hold
// the fetched page.
func (t *StaticTransformer) Transform(ctx context.Context, doc *models.Document, opts *models.ScrapeOptions) error {
	sel, err := t.selection(doc.RawHTML, opts)
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	for _, format := range opts.EffectiveFormats() {
		switch format {
		case models.FormatHTML:
			html, err := goquery.OuterHtml(sel)
			if err != nil {
				return fmt.Errorf("failed to serialize html: %w", err)
			}
			doc.HTML = html
		case models.FormatText:
			doc.Text = normalizeText(sel.Text())
		case models.FormatMarkdown:
			doc.Markdown = renderMarkdown(sel)
		case models.FormatRawHTML:
			// Already on the document.
		case models.FormatJSON, models.FormatSummary:
			// LLM formats are filled by a collaborating transformer.
		}
	}

	if !opts.WantsFormat(models.FormatRawHTML) {
		doc.RawHTML = ""
	}
	return nil
}

// selection parses the HTML and applies the content filters.
func (t *StaticTransformer) selection(rawHTML string, opts *models.ScrapeOptions) (*goquery.Selection, error) {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	root := parsed.Find("body")
	if root.Length() == 0 {
		root = parsed.Selection
	}

	if opts != nil && opts.OnlyMainContent {
		for _, candidate := range []string{"main", "article", "#content", ".content"} {
			if found := root.Find(candidate); found.Length() > 0 {
				root = found.First()
				break
			}
		}
		root.Find("nav, header, footer, aside").Remove()
	}
	root.Find("script, style, noscript").Remove()

	if opts != nil && len(opts.IncludeTags) > 0 {
		root = root.Find(strings.Join(opts.IncludeTags, ", "))
	}
	if opts != nil && len(opts.ExcludeTags) > 0 {
		root.Find(strings.Join(opts.ExcludeTags, ", ")).Remove()
	}

	return root, nil
}

// renderMarkdown produces a plain markdown rendering: headings, paragraphs,
// list items, and links. It is intentionally lossy; callers needing faithful
// markdown plug in a richer transformer.
func renderMarkdown(sel *goquery.Selection) string {
	var b strings.Builder

	sel.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote").Each(func(_ int, el *goquery.Selection) {
		text := normalizeInline(el)
		if text == "" {
			return
		}
		switch goquery.NodeName(el) {
		case "h1":
			b.WriteString("# " + text + "\n\n")
		case "h2":
			b.WriteString("## " + text + "\n\n")
		case "h3":
			b.WriteString("### " + text + "\n\n")
		case "h4":
			b.WriteString("#### " + text + "\n\n")
		case "h5":
			b.WriteString("##### " + text + "\n\n")
		case "h6":
			b.WriteString("###### " + text + "\n\n")
		case "li":
			b.WriteString("- " + text + "\n")
		case "pre":
			b.WriteString("```\n" + strings.TrimSpace(el.Text()) + "\n```\n\n")
		case "blockquote":
			b.WriteString("> " + text + "\n\n")
		default:
			b.WriteString(text + "\n\n")
		}
	})

	return strings.TrimSpace(collapseNewlines.ReplaceAllString(b.String(), "\n\n"))
}

// normalizeInline flattens an element to a single markdown line, rewriting
// anchors as [text](href).
func normalizeInline(el *goquery.Selection) string {
	clone := el.Clone()
	clone.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		text := strings.TrimSpace(a.Text())
		if href == "" || text == "" {
			return
		}
		a.ReplaceWithHtml("[" + text + "](" + href + ")")
	})
	// Nested block elements are rendered by their own pass.
	clone.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote").Remove()
	return normalizeText(clone.Text())
}

// normalizeText collapses runs of whitespace while keeping line breaks.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(collapseWhitespace.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
