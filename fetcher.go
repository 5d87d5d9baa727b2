package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// HTTP timeout for each fetch
	FetcherTimeout = 30 * time.Second

	// Cap on extracted text so page content can't blow up prompt budgets
	MaxFetchedContentLength = 20000
)

var whitespaceRun = regexp.MustCompile(`[ \t]+`)

// FetchURLContent downloads a web page and extracts its readable text, so
// users can attach page content as context for a council question.
func FetchURLContent(ctx context.Context, url string) (string, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("only http and https URLs are supported")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	client := &http.Client{Timeout: FetcherTimeout}

	// One quick retry for flaky fetches; page context is best-effort
	var resp *http.Response
	maxRetries := 2
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err = client.Do(req)
		if err == nil {
			break
		}
		if attempt < maxRetries-1 {
			log.Printf("Fetch attempt %d failed, retrying in 2s: %v", attempt+1, err)
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s after %d attempts: %w", url, maxRetries, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, url)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	return ExtractReadableText(doc), nil
}

// ExtractReadableText pulls the title, headings, paragraphs, and list
// items out of a document in order, skipping boilerplate containers.
func ExtractReadableText(doc *goquery.Document) string {
	// Drop non-content elements before walking the text
	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()

	var b strings.Builder

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		b.WriteString(title)
		b.WriteString("\n\n")
	}

	doc.Find("h1, h2, h3, h4, h5, h6, p, li, blockquote, pre, td").Each(func(i int, s *goquery.Selection) {
		// Only take leaf-ish nodes so nested containers don't duplicate text
		if s.ChildrenFiltered("p, li, blockquote").Length() > 0 {
			return
		}
		text := cleanText(s.Text())
		if text == "" {
			return
		}
		b.WriteString(text)
		b.WriteString("\n")
	})

	content := strings.TrimSpace(b.String())
	if content == "" {
		// Fallback: whole-body text for pages without semantic markup
		content = cleanText(doc.Find("body").Text())
	}

	if len(content) > MaxFetchedContentLength {
		content = content[:MaxFetchedContentLength] + "\n[content truncated]"
	}
	return content
}

// cleanText collapses runs of whitespace and strips non-breaking spaces.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, " ", " ")
	lines := strings.Split(text, "\n")
	var kept []string
	for _, line := range lines {
		line = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
