// src/extractors/html.go
package extractors

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/username/payfolio/src/models"
	"golang.org/x/net/html"
)

// htmlTable is one <table> flattened into rows of cell text.
// headerRow is the first thead row, or the first row if there is no thead.
type htmlTable struct {
	headerRow []string
	dataRows  [][]string
	allRows   [][]string
}

// extractHTML scans every table independently for an amount column using
// the same priority rules as CSV. When no header matches in any table it
// falls back to a looser repo-wide scan: any cell naming total/amount/
// charged marks its column as a header, and purely numeric cells below it
// are accepted.
func extractHTML(data []byte, fileName string) (*models.ExtractionResult, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse HTML of %q: %v", ErrMalformedDocument, fileName, err)
	}

	tables := collectTables(doc)

	result := &models.ExtractionResult{
		FileName: fileName,
		FileKind: "html",
		Amounts:  []models.ExtractedAmount{},
	}

	// Strategy 1: per-table header matching, tables processed independently
	// and their accepted amounts concatenated.
	matchedAny := false
	for _, t := range tables {
		col, _ := matchAmountColumn(t.headerRow)
		if col < 0 {
			continue
		}
		matchedAny = true
		if result.MatchedColumn == "" {
			result.MatchedColumn = strings.TrimSpace(t.headerRow[col])
		}
		for _, row := range t.dataRows {
			if col >= len(row) {
				continue
			}
			value, ok := parseAmount(row[col])
			if !ok {
				continue
			}
			result.Amounts = append(result.Amounts, models.ExtractedAmount{
				Value:        value,
				SourceFile:   fileName,
				SourceColumn: strings.TrimSpace(t.headerRow[col]),
			})
		}
	}

	// Strategy 2: looser fallback, applied across all tables only when
	// strategy 1 matched nothing. Header cells may sit in any row here.
	if !matchedAny {
		for _, t := range tables {
			headerCols := map[int]string{} // column index -> header text, first marker wins
			headerRowIdx := map[int]int{}
			for ri, row := range t.allRows {
				for ci, cell := range row {
					if _, seen := headerCols[ci]; seen {
						continue
					}
					if isLooseAmountHeader(cell) && !isPurelyNumeric(cell) {
						headerCols[ci] = strings.TrimSpace(cell)
						headerRowIdx[ci] = ri
					}
				}
			}
			// Column order, not map order, so identical bytes always yield
			// the same matched column and amount sequence.
			cols := make([]int, 0, len(headerCols))
			for ci := range headerCols {
				cols = append(cols, ci)
			}
			sort.Ints(cols)
			for _, ci := range cols {
				headerText := headerCols[ci]
				if result.MatchedColumn == "" {
					result.MatchedColumn = headerText
				}
				for ri := headerRowIdx[ci] + 1; ri < len(t.allRows); ri++ {
					row := t.allRows[ri]
					if ci >= len(row) {
						continue
					}
					if !isPurelyNumeric(row[ci]) {
						continue
					}
					value, ok := parseAmount(row[ci])
					if !ok {
						continue
					}
					result.Amounts = append(result.Amounts, models.ExtractedAmount{
						Value:        value,
						SourceFile:   fileName,
						SourceColumn: headerText,
					})
				}
			}
		}
	}

	result.Total = sumAmounts(result.Amounts)
	return result, nil
}

// isPurelyNumeric reports whether a trimmed cell consists only of digits
// and numeric punctuation, with at least one digit.
func isPurelyNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	hasDigit := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '.' || r == ',':
		case r == '-' && i == 0:
		default:
			return false
		}
	}
	return hasDigit
}

// collectTables walks the parsed tree and flattens every <table>.
func collectTables(doc *html.Node) []htmlTable {
	var tables []htmlTable

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "table" {
			tables = append(tables, flattenTable(n))
			return // nested tables are rare and ambiguous, treat outer only
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return tables
}

func flattenTable(table *html.Node) htmlTable {
	var t htmlTable
	var theadRows, otherRows [][]string

	var walk func(n *html.Node, inTHead bool)
	walk = func(n *html.Node, inTHead bool) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			row := rowCells(n)
			if inTHead {
				theadRows = append(theadRows, row)
			} else {
				otherRows = append(otherRows, row)
			}
			return
		}
		head := inTHead || (n.Type == html.ElementNode && n.Data == "thead")
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, head)
		}
	}
	walk(table, false)

	t.allRows = append(append([][]string{}, theadRows...), otherRows...)
	switch {
	case len(theadRows) > 0:
		t.headerRow = theadRows[0]
		t.dataRows = append(theadRows[1:], otherRows...)
	case len(otherRows) > 0:
		t.headerRow = otherRows[0]
		t.dataRows = otherRows[1:]
	}
	return t
}

func rowCells(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			cells = append(cells, nodeText(c))
		}
	}
	return cells
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
