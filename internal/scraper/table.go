package scraper

import (
	"errors"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Row is one posting line of the README table.
type Row struct {
	Company        string
	CompanyURL     string
	Role           string
	Location       string
	ApplicationURL string
	DatePosted     string
}

const continuationMark = "↳"

var (
	// ErrTableNotFound is returned when the README has no postings table.
	ErrTableNotFound = errors.New("postings table not found")

	header       = []string{"company", "role", "location", "application/link", "date posted"}
	markdownLink = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)\)`)
)

// ParseTable extracts the rows of the first postings table. Continuation
// rows inherit the company of the row above.
func ParseTable(markdown string) ([]Row, error) {
	lines := strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n")

	start := -1
	for i, line := range lines {
		if isHeader(line) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil, ErrTableNotFound
	}

	rows := make([]Row, 0)
	var company, companyURL string
	for _, line := range lines[start:] {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			break
		}

		cells := splitRow(line)
		if len(cells) < 4 || isSeparator(cells) {
			continue
		}

		name, url := parseCompany(cells[0])
		if name == continuationMark || name == "" {
			name, url = company, companyURL
		}
		if name == "" {
			continue
		}
		company, companyURL = name, url

		row := Row{
			Company:        name,
			CompanyURL:     url,
			Role:           cleanText(cells[1]),
			Location:       cleanText(cells[2]),
			ApplicationURL: parseLink(cells[3]),
		}
		if len(cells) > 4 {
			row.DatePosted = cleanText(cells[4])
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func isHeader(line string) bool {
	cells := splitRow(strings.TrimSpace(line))
	if len(cells) != len(header) {
		return false
	}
	for i, cell := range cells {
		if strings.ToLower(cell) != header[i] {
			return false
		}
	}
	return true
}

func splitRow(line string) []string {
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	cells := strings.Split(line, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func isSeparator(cells []string) bool {
	for _, cell := range cells {
		if strings.Trim(cell, "-: ") != "" {
			return false
		}
	}
	return true
}

func parseCompany(cell string) (name, url string) {
	cell = strings.ReplaceAll(cell, "*", "")
	if m := markdownLink.FindStringSubmatch(cell); m != nil {
		return strings.TrimSpace(m[1]), m[2]
	}
	return cleanText(cell), ""
}

// parseLink returns the first href of an HTML cell, the target of a
// markdown link, or the cell text.
func parseLink(cell string) string {
	if strings.Contains(cell, "<a") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(cell))
		if err == nil {
			if href, ok := doc.Find("a[href]").First().Attr("href"); ok && href != "" {
				return href
			}
		}
	}
	if m := markdownLink.FindStringSubmatch(cell); m != nil {
		return m[2]
	}
	return cleanText(cell)
}

// cleanText drops markup from a cell, keeping the visible text.
func cleanText(cell string) string {
	cell = strings.ReplaceAll(cell, "**", "")
	if !strings.Contains(cell, "<") {
		return strings.TrimSpace(cell)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(cell))
	if err != nil {
		return strings.TrimSpace(cell)
	}
	doc.Find("br").ReplaceWithHtml(", ")
	return strings.TrimSpace(doc.Text())
}
