package scraper_pkg

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"cfetarifa/tariff"
)

// Extraction is the raw table content pulled from a scope.
type Extraction struct {
	Rows []tariff.RawRow
	// Heading is the season heading searched for; empty for DAC.
	Heading string
	// Fallback is set when no table followed the heading and the first
	// table of the scope was used instead.
	Fallback bool
}

// ExtractRows reads the rows relevant to req. DAC reads every row of every
// table; tiered tariffs read the table following the season heading.
func ExtractRows(doc *Document, req tariff.Request) (*Extraction, error) {
	tables := doc.Tables()
	if tables.Length() == 0 {
		return nil, tariff.ErrTableNotFound
	}
	if req.Code.IsDAC() {
		return &Extraction{Rows: readRows(doc.Doc.Find("table tr"))}, nil
	}

	heading := tariff.SeasonHeading(req.InSummer())
	ext := &Extraction{Heading: heading}
	table := TableAfterHeading(doc.Doc, heading)
	if table == nil {
		table = tables.First()
		ext.Fallback = true
	}
	ext.Rows = readRows(table.Find("tr"))
	return ext, nil
}

// TableAfterHeading returns the first table that starts after the innermost
// element whose text contains heading, or nil. Tables enclosing the heading
// do not count.
func TableAfterHeading(doc *goquery.Document, heading string) *goquery.Selection {
	order := make(map[*html.Node]int)
	var elements []*goquery.Selection
	doc.Find("*").Each(func(i int, s *goquery.Selection) {
		order[s.Nodes[0]] = i
		elements = append(elements, s)
	})

	end := -1
	for i, s := range elements {
		if !strings.Contains(normalizeSpace(s.Text()), heading) {
			continue
		}
		if childContains(s, heading) {
			continue
		}
		end = i + s.Find("*").Length()
		break
	}
	if end < 0 {
		return nil
	}

	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, t *goquery.Selection) bool {
		if order[t.Nodes[0]] > end {
			found = t
			return false
		}
		return true
	})
	return found
}

func childContains(s *goquery.Selection, heading string) bool {
	hit := false
	s.Children().EachWithBreak(func(_ int, c *goquery.Selection) bool {
		hit = strings.Contains(normalizeSpace(c.Text()), heading)
		return !hit
	})
	return hit
}

func readRows(trs *goquery.Selection) []tariff.RawRow {
	rows := make([]tariff.RawRow, 0, trs.Length())
	trs.Each(func(_ int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("th, td")
		row := make(tariff.RawRow, 0, cells.Length())
		cells.Each(func(_ int, c *goquery.Selection) {
			row = append(row, normalizeSpace(c.Text()))
		})
		rows = append(rows, row)
	})
	return rows
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
