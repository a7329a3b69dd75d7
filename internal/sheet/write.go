package sheet

import (
	"encoding/json"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/outreach-cli/internal/model"
)

// ExportSheetName is the name of the single sheet in an export workbook.
const ExportSheetName = "Leads"

var leadColumns = []string{"Row", "Company", "Contact", "Title", "Link"}

var resultColumns = []string{
	"Status", "Degraded", "Country", "Industry", "Tone",
	"News", "Cases", "Message 1", "Message 2", "Message 3",
	"Research", "Processing ms", "Error",
}

// ExportFilename derives the download name from the uploaded file name.
func ExportFilename(uploaded string) string {
	base := strings.TrimSuffix(filepath.Base(uploaded), filepath.Ext(uploaded))
	if base == "" || base == "." || base == "/" {
		base = "leads"
	}
	return base + "_enriched.xlsx"
}

// ExportHeader returns the column names for a set of records: lead columns,
// then every extra input column in name order, then pipeline output.
func ExportHeader(records []model.Record) []string {
	header := append([]string{}, leadColumns...)
	header = append(header, extraKeys(records)...)
	return append(header, resultColumns...)
}

// WriteExport writes one row per record, in row order, as an XLSX workbook.
// News and cases are written as their stored JSON arrays.
func WriteExport(w io.Writer, records []model.Record) error {
	f := xlsx.NewFile()
	sh, err := f.AddSheet(ExportSheetName)
	if err != nil {
		return eris.Wrap(err, "sheet: add export sheet")
	}

	extras := extraKeys(records)
	addStrings(sh.AddRow(), ExportHeader(records))

	sorted := append([]model.Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RowIndex < sorted[j].RowIndex })

	for _, r := range sorted {
		news, err := jsonCell(r.News)
		if err != nil {
			return eris.Wrapf(err, "sheet: encode news for record %s", r.ID)
		}
		cases, err := jsonCell(r.Cases)
		if err != nil {
			return eris.Wrapf(err, "sheet: encode cases for record %s", r.ID)
		}

		row := sh.AddRow()
		row.AddCell().SetInt(r.RowIndex + 1)
		addStrings(row, []string{r.Lead.CompanyName, r.Lead.ContactName, r.Lead.Title, r.Lead.Link})
		for _, k := range extras {
			row.AddCell().SetString(r.Lead.Extra[k])
		}
		addStrings(row, []string{
			string(r.Status),
			strconv.FormatBool(r.Degraded),
			r.Region,
			r.Industry,
			r.ToneKey,
			news,
			cases,
			r.Message1,
			r.Message2,
			r.Message3,
			r.ResearchData,
		})
		row.AddCell().SetInt64(r.ProcessingMs)
		row.AddCell().SetString(r.ErrorMessage)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "sheet: write export")
	}
	return nil
}

func addStrings(row *xlsx.Row, values []string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func extraKeys(records []model.Record) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, r := range records {
		for k := range r.Lead.Extra {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// jsonCell encodes a list, writing an empty list as "[]".
func jsonCell[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
