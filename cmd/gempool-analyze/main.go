// Command gempool-analyze inspects a saved Gemini page snapshot against the
// selector catalog. When the Gemini frontend changes, run it on a fresh
// "save page as HTML" dump to see which roles still resolve and which need
// new candidates, before touching the catalog.
package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"github.com/use-agent/gempool/detector"
	"github.com/use-agent/gempool/selectors"
)

func main() {
	htmlPath := flag.String("html", "", "path to a saved HTML snapshot")
	pageURL := flag.String("url", "https://gemini.google.com/app", "URL the snapshot was taken from")
	markdown := flag.Bool("markdown", false, "print a markdown rendition of the page body")
	flag.Parse()

	if *htmlPath == "" {
		fmt.Fprintln(os.Stderr, "usage: gempool-analyze -html <snapshot.html> [-url <page url>] [-markdown]")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*htmlPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read snapshot: %v\n", err)
		os.Exit(1)
	}

	root, err := html.Parse(strings.NewReader(string(raw)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse HTML: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Snapshot: %s (%d bytes)\n", *htmlPath, len(raw))
	fmt.Printf("URL:      %s\n\n", *pageURL)

	if err := selectors.Validate(); err != nil {
		fmt.Printf("selector catalog INVALID: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("selector catalog: all candidates parse")

	state := detector.Classify(*pageURL, string(raw))
	fmt.Printf("detected state:   %s\n\n", state)

	reportCoverage(root)
	reportArticle(string(raw), *pageURL)

	if *markdown {
		printMarkdown(root)
	}
}

// reportCoverage matches every catalog candidate against the snapshot and
// prints per-role hit counts.
func reportCoverage(root *html.Node) {
	roles := selectors.Roles()
	sort.Strings(roles)

	fmt.Println("selector coverage:")
	missing := 0
	for _, role := range roles {
		total := 0
		var lines []string
		for _, sel := range selectors.Candidates(role) {
			group, err := cascadia.ParseGroup(sel)
			if err != nil {
				lines = append(lines, fmt.Sprintf("    !! %-60s parse error: %v", sel, err))
				continue
			}
			n := len(cascadia.QueryAll(root, group))
			total += n
			mark := "  "
			if n > 0 {
				mark = "ok"
			}
			lines = append(lines, fmt.Sprintf("    %s %-60s %d", mark, sel, n))
		}
		status := "MISSING"
		if total > 0 {
			status = fmt.Sprintf("%d match(es)", total)
		} else {
			missing++
		}
		fmt.Printf("  %-22s %s\n", role, status)
		for _, line := range lines {
			fmt.Println(line)
		}
	}
	fmt.Printf("\n%d of %d roles unresolved in this snapshot\n\n", missing, len(roles))
}

// reportArticle runs readability extraction, which approximates what a copy
// of the visible page content would contain.
func reportArticle(rawHTML, pageURL string) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), u)
	if err != nil {
		fmt.Printf("readability: %v\n\n", err)
		return
	}
	fmt.Println("readability summary:")
	fmt.Printf("  title:   %s\n", article.Title)
	fmt.Printf("  excerpt: %s\n", truncate(article.Excerpt, 120))
	fmt.Printf("  text:    %d chars\n\n", len(article.TextContent))
}

// printMarkdown renders the page body as markdown, the same shape the
// clipboard extraction produces for responses.
func printMarkdown(root *html.Node) {
	doc := goquery.NewDocumentFromNode(root)
	body, err := doc.Find("body").Html()
	if err != nil || body == "" {
		return
	}
	md, err := htmltomarkdown.ConvertString(body)
	if err != nil {
		fmt.Printf("markdown conversion: %v\n", err)
		return
	}
	fmt.Println("markdown rendition:")
	fmt.Println(truncate(md, 4000))
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
