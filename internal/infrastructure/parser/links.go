package parser

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"InboxRPA/internal/domain"
	"InboxRPA/internal/ports"
)

// urlTail matches the characters allowed after a configured URL prefix.
const urlTail = `[\w\-\?&=/%#\.]+`

var anyURL = regexp.MustCompile(`https?://[^\s<>"']+`)

// trailing punctuation that usually belongs to the sentence, not the link
const trimSet = ".,;:!?)]}>'\""

// LinkExtractor finds candidate action links in a message body.
type LinkExtractor struct {
	pattern *regexp.Regexp
	prefix  string
	logger  *slog.Logger
}

var _ ports.LinkExtractor = (*LinkExtractor)(nil)

// NewLinkExtractor builds an extractor. A non-empty prefix restricts matches to URLs starting with it.
func NewLinkExtractor(prefix string, logger *slog.Logger) (*LinkExtractor, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	prefix = strings.TrimSpace(prefix)
	pattern := anyURL
	if prefix != "" {
		compiled, err := regexp.Compile(regexp.QuoteMeta(prefix) + urlTail)
		if err != nil {
			return nil, fmt.Errorf("compile url pattern: %w", err)
		}
		pattern = compiled
	}

	return &LinkExtractor{pattern: pattern, prefix: prefix, logger: logger}, nil
}

// Extract returns the de-duplicated links of msg in order of appearance.
// The plain-text part is scanned first; anchors in the HTML part are used when it yields nothing.
func (e *LinkExtractor) Extract(msg domain.Message) []string {
	links := e.fromText(msg.Text)
	if len(links) == 0 && strings.TrimSpace(msg.HTML) != "" {
		links = e.fromHTML(msg.HTML)
	}

	e.logger.Debug("links extracted", "subject", msg.Subject, "count", len(links))
	return links
}

func (e *LinkExtractor) fromText(text string) []string {
	if text == "" {
		return nil
	}
	return dedupe(e.pattern.FindAllString(text, -1))
}

func (e *LinkExtractor) fromHTML(body string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		e.logger.Warn("parse html body", "error", err)
		return nil
	}

	var found []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		if loc := e.pattern.FindStringIndex(href); loc != nil && loc[0] == 0 {
			found = append(found, href[:loc[1]])
		}
	})

	if len(found) == 0 {
		// Links written as plain text inside the markup.
		found = e.pattern.FindAllString(doc.Text(), -1)
	}
	return dedupe(found)
}

func dedupe(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(raw))
	result := make([]string, 0, len(raw))
	for _, link := range raw {
		link = strings.TrimRight(link, trimSet)
		if link == "" {
			continue
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		result = append(result, link)
	}
	return result
}
