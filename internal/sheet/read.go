// Package sheet converts uploaded spreadsheets into leads and completed jobs
// back into an export workbook.
package sheet

import (
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	// ErrNoCompanyColumn is returned when no header names the company.
	ErrNoCompanyColumn = eris.New("sheet: no company column")

	// ErrNoLeads is returned when the sheet has a header but no usable rows.
	ErrNoLeads = eris.New("sheet: no leads")
)

type field int

const (
	fieldExtra field = iota
	fieldCompany
	fieldContact
	fieldFirstName
	fieldLastName
	fieldTitle
	fieldLink
)

// headerAliases maps normalized header names to lead fields.
var headerAliases = map[string]field{
	"company":          fieldCompany,
	"company_name":     fieldCompany,
	"organization":     fieldCompany,
	"organisation":     fieldCompany,
	"account":          fieldCompany,
	"account_name":     fieldCompany,
	"contact":          fieldContact,
	"contact_name":     fieldContact,
	"name":             fieldContact,
	"full_name":        fieldContact,
	"first_name":       fieldFirstName,
	"last_name":        fieldLastName,
	"title":            fieldTitle,
	"job_title":        fieldTitle,
	"position":         fieldTitle,
	"role":             fieldTitle,
	"link":             fieldLink,
	"website":          fieldLink,
	"company_website":  fieldLink,
	"url":              fieldLink,
	"domain":           fieldLink,
	"linkedin":         fieldLink,
	"linkedin_url":     fieldLink,
	"company_linkedin": fieldLink,
}

// ReadLeads parses an uploaded file. Files named *.csv are read as CSV; any
// other name is read as an XLSX workbook, first sheet.
func ReadLeads(data []byte, filename string) ([]model.Lead, error) {
	var (
		rows [][]string
		err  error
	)
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		rows, err = readCSV(bytes.NewReader(data))
	} else {
		rows, err = readXLSX(data)
	}
	if err != nil {
		return nil, err
	}
	return LeadsFromRows(rows)
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "sheet: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("sheet: workbook has no sheets")
	}

	sh := f.Sheets[0]
	rows := make([][]string, 0, len(sh.Rows))
	for _, row := range sh.Rows {
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "sheet: read csv")
	}
	return rows, nil
}

// LeadsFromRows maps rows to leads using the first non-empty row as the
// header. Unrecognised columns land in Lead.Extra under their normalized
// header; rows without a company name are skipped.
func LeadsFromRows(rows [][]string) ([]model.Lead, error) {
	start := 0
	for start < len(rows) && blank(rows[start]) {
		start++
	}
	if start == len(rows) {
		return nil, ErrNoLeads
	}

	header := rows[start]
	fields := make([]field, len(header))
	keys := make([]string, len(header))
	hasCompany := false
	for i, h := range header {
		keys[i] = normalizeHeader(h)
		fields[i] = headerAliases[keys[i]]
		if fields[i] == fieldCompany {
			hasCompany = true
		}
	}
	if !hasCompany {
		return nil, ErrNoCompanyColumn
	}

	var leads []model.Lead
	for _, row := range rows[start+1:] {
		if blank(row) {
			continue
		}
		lead, first, last := model.Lead{}, "", ""
		for i, raw := range row {
			if i >= len(fields) {
				break
			}
			v := strings.TrimSpace(raw)
			switch fields[i] {
			case fieldCompany:
				setOnce(&lead.CompanyName, v)
			case fieldContact:
				setOnce(&lead.ContactName, v)
			case fieldFirstName:
				first = v
			case fieldLastName:
				last = v
			case fieldTitle:
				setOnce(&lead.Title, v)
			case fieldLink:
				setOnce(&lead.Link, v)
			default:
				if keys[i] == "" || v == "" {
					continue
				}
				if lead.Extra == nil {
					lead.Extra = make(map[string]string)
				}
				lead.Extra[keys[i]] = v
			}
		}
		if lead.ContactName == "" {
			lead.ContactName = strings.TrimSpace(first + " " + last)
		}
		if lead.CompanyName == "" {
			continue
		}
		leads = append(leads, lead)
	}

	if len(leads) == 0 {
		return nil, ErrNoLeads
	}
	return leads, nil
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// normalizeHeader lowercases a header and joins its words with underscores,
// so "Company Website" becomes "company_website".
func normalizeHeader(h string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}
	return b.String()
}
