package addressbook

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snarg/klaxon/internal/database"
)

// csvColumns is the canonical export column order. Import matches columns by
// header name, so reordered or partial files still load.
var csvColumns = []string{
	"id", "name", "surname", "address", "zip_code", "city", "state", "country",
	"phone_number", "enabled", "created_time", "annotations", "on_call_availability",
}

// ExportCSV writes the whole book in the canonical column order. The
// availability column is compact JSON so the file round-trips through import.
func ExportCSV(w io.Writer, contacts []database.Contact) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range contacts {
		c := &contacts[i]
		availability := "[]"
		if len(c.Availability) > 0 {
			raw, err := json.Marshal(c.Availability)
			if err != nil {
				return fmt.Errorf("marshal availability for %s: %w", c.ID, err)
			}
			availability = string(raw)
		}
		enabled := "false"
		if c.Enabled {
			enabled = "true"
		}
		row := []string{
			c.ID.String(), c.Name, c.Surname, c.Address, c.ZipCode, c.City, c.State,
			c.Country, c.PhoneNumber, enabled, c.CreatedTime.UTC().Format(time.RFC3339),
			c.Annotations, availability,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row for %s: %w", c.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ImportError is one failed row or write from a CSV import.
type ImportError struct {
	Row   int    `json:"row,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error"`
}

// ImportReport summarizes a CSV import. Errors is capped at ten entries;
// ErrorsCount carries the real total.
type ImportReport struct {
	Status        int           `json:"status"`
	ProcessedRows int           `json:"processed_rows"`
	Updated       int           `json:"updated"`
	Created       int           `json:"created"`
	ErrorsCount   int           `json:"errors_count"`
	Errors        []ImportError `json:"errors"`
}

// ImportCSV loads contacts from r. Rows matching an existing contact by id,
// or failing that by normalized (phone_number, name, surname), become
// updates; the rest become inserts. Row failures are collected, never fatal.
func ImportCSV(ctx context.Context, store store, r io.Reader) (ImportReport, error) {
	report := ImportReport{Status: 200, Errors: []ImportError{}}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return report, fmt.Errorf("read CSV header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	// Rows are numbered from 2: the header is line 1.
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			report.ProcessedRows++
			report.Errors = append(report.Errors, ImportError{Row: line, Error: err.Error()})
			continue
		}
		report.ProcessedRows++

		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(record) {
				row[h] = strings.TrimSpace(record[i])
			}
		}
		if err := importRow(ctx, store, row, &report); err != nil {
			report.Errors = append(report.Errors, ImportError{Row: line, Error: err.Error()})
		}
	}

	report.ErrorsCount = len(report.Errors)
	if len(report.Errors) > 10 {
		report.Errors = report.Errors[:10]
	}
	return report, nil
}

func importRow(ctx context.Context, store store, row map[string]string, report *ImportReport) error {
	if row["name"] == "" || row["phone_number"] == "" {
		return fmt.Errorf("missing required name or phone_number")
	}

	enabled, enabledSet := parseEnabled(row["enabled"])
	availability := parseAvailability(row["on_call_availability"])

	existing, err := findImportTarget(ctx, store, row)
	if err != nil {
		return err
	}

	if existing != nil {
		existing.Name = row["name"]
		existing.Surname = row["surname"]
		existing.Address = row["address"]
		existing.ZipCode = row["zip_code"]
		existing.City = row["city"]
		existing.State = row["state"]
		existing.Country = row["country"]
		existing.PhoneNumber = row["phone_number"]
		existing.Annotations = row["annotations"]
		existing.Availability = availability
		if enabledSet {
			existing.Enabled = enabled
		}
		if err := store.UpdateContact(ctx, existing); err != nil {
			return err
		}
		report.Updated++
		return nil
	}

	// Unknown ids are dropped: inserts always mint a fresh one.
	c := &database.Contact{
		Name:         row["name"],
		Surname:      row["surname"],
		Address:      row["address"],
		ZipCode:      row["zip_code"],
		City:         row["city"],
		State:        row["state"],
		Country:      row["country"],
		PhoneNumber:  row["phone_number"],
		Enabled:      enabledSet && enabled,
		Annotations:  row["annotations"],
		Availability: availability,
	}
	if err := store.InsertContact(ctx, c); err != nil {
		return err
	}
	report.Created++
	return nil
}

func findImportTarget(ctx context.Context, store store, row map[string]string) (*database.Contact, error) {
	if raw := row["id"]; raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			c, err := store.GetContact(ctx, id)
			if err != nil {
				return nil, err
			}
			if c != nil {
				return c, nil
			}
		}
	}
	return store.ContactByIdentity(ctx, row["phone_number"], row["name"], row["surname"])
}

// parseEnabled maps the accepted spellings; anything else reports unset,
// which preserves the existing flag on update and defaults to false on
// insert.
func parseEnabled(s string) (value, set bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

// parseAvailability is forgiving: plain JSON lists, double-encoded lists
// from spreadsheet exports, and anything unreadable all come back as a list
// (possibly empty) rather than failing the row.
func parseAvailability(s string) []database.AvailabilityWindow {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var windows []database.AvailabilityWindow
	if err := json.Unmarshal([]byte(s), &windows); err == nil {
		return windows
	}
	var nested string
	if err := json.Unmarshal([]byte(s), &nested); err == nil {
		if err := json.Unmarshal([]byte(nested), &windows); err == nil {
			return windows
		}
	}
	return nil
}
