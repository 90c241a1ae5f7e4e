package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// AvailabilityWindow is one on-call slot. Start/end are absolute instants;
// lower priority wins.
type AvailabilityWindow struct {
	StartAt  time.Time `json:"start_at"`
	EndAt    time.Time `json:"end_at"`
	Priority int       `json:"priority"`
}

// UnmarshalJSON tolerates the timestamp shapes seen in imported data:
// RFC3339 with offset or Z, and naive ISO timestamps treated as UTC.
func (w *AvailabilityWindow) UnmarshalJSON(data []byte) error {
	var raw struct {
		StartAt  string          `json:"start_at"`
		EndAt    string          `json:"end_at"`
		Priority json.RawMessage `json:"priority"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	start, err := parseISOUTC(raw.StartAt)
	if err != nil {
		return fmt.Errorf("start_at: %w", err)
	}
	end, err := parseISOUTC(raw.EndAt)
	if err != nil {
		return fmt.Errorf("end_at: %w", err)
	}

	prio := 0
	if len(raw.Priority) > 0 {
		// Accept both 2 and "2".
		if err := json.Unmarshal(raw.Priority, &prio); err != nil {
			var s string
			if err2 := json.Unmarshal(raw.Priority, &s); err2 != nil {
				return fmt.Errorf("priority: %w", err)
			}
			if _, err2 := fmt.Sscanf(strings.TrimSpace(s), "%d", &prio); err2 != nil {
				return fmt.Errorf("priority %q: %w", s, err2)
			}
		}
	}

	w.StartAt = start
	w.EndAt = end
	w.Priority = prio
	return nil
}

// Contains reports whether t falls inside the window, bounds included.
func (w AvailabilityWindow) Contains(t time.Time) bool {
	return !t.Before(w.StartAt) && !t.After(w.EndAt)
}

func parseISOUTC(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// Contact is one address book entry.
type Contact struct {
	ID           uuid.UUID
	Name         string
	Surname      string
	Address      string
	ZipCode      string
	City         string
	State        string
	Country      string
	PhoneNumber  string
	Enabled      bool
	CreatedTime  time.Time
	Annotations  string
	Availability []AvailabilityWindow
}

const contactColumns = `id, name, surname, address, zip_code, city, state, country,
	phone_number, enabled, created_time, annotations, on_call_availability`

func scanContact(row pgx.Row) (*Contact, error) {
	var c Contact
	var created pgtype.Timestamptz
	var availability []byte
	err := row.Scan(
		&c.ID, &c.Name, &c.Surname, &c.Address, &c.ZipCode, &c.City, &c.State, &c.Country,
		&c.PhoneNumber, &c.Enabled, &created, &c.Annotations, &availability,
	)
	if err != nil {
		return nil, err
	}
	c.CreatedTime = fromPgtz(created)
	if len(availability) > 0 {
		if err := json.Unmarshal(availability, &c.Availability); err != nil {
			// A contact with unreadable windows is still a contact; it just
			// never comes up on call.
			c.Availability = nil
		}
	}
	return &c, nil
}

func (db *DB) InsertContact(ctx context.Context, c *Contact) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedTime.IsZero() {
		c.CreatedTime = time.Now().UTC()
	}
	availability, err := json.Marshal(c.Availability)
	if err != nil {
		return fmt.Errorf("marshal availability: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO address_book (id, name, surname, address, zip_code, city, state, country,
			phone_number, enabled, created_time, annotations, on_call_availability)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, c.Name, c.Surname, c.Address, c.ZipCode, c.City, c.State, c.Country,
		c.PhoneNumber, c.Enabled, pgtz(c.CreatedTime), c.Annotations, availability,
	)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

func (db *DB) UpdateContact(ctx context.Context, c *Contact) error {
	availability, err := json.Marshal(c.Availability)
	if err != nil {
		return fmt.Errorf("marshal availability: %w", err)
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE address_book
		SET name=$2, surname=$3, address=$4, zip_code=$5, city=$6, state=$7, country=$8,
		    phone_number=$9, enabled=$10, annotations=$11, on_call_availability=$12
		WHERE id = $1`,
		c.ID, c.Name, c.Surname, c.Address, c.ZipCode, c.City, c.State, c.Country,
		c.PhoneNumber, c.Enabled, c.Annotations, availability,
	)
	if err != nil {
		return fmt.Errorf("update contact %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) DeleteContact(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM address_book WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete contact %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) GetContact(ctx context.Context, id uuid.UUID) (*Contact, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM address_book WHERE id = $1`, id)
	c, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact %s: %w", id, err)
	}
	return c, nil
}

// ContactByIdentity finds a contact by the normalized import identity:
// lowercased, trimmed (phone_number, name, surname).
func (db *DB) ContactByIdentity(ctx context.Context, phone, name, surname string) (*Contact, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+contactColumns+`
		FROM address_book
		WHERE lower(btrim(phone_number)) = lower(btrim($1))
		  AND lower(btrim(name)) = lower(btrim($2))
		  AND lower(btrim(surname)) = lower(btrim($3))
		LIMIT 1`,
		phone, name, surname,
	)
	c, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("contact by identity: %w", err)
	}
	return c, nil
}

// ListContacts returns the whole book ordered by creation time.
func (db *DB) ListContacts(ctx context.Context) ([]Contact, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+contactColumns+` FROM address_book ORDER BY created_time ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()
	return collectContacts(rows)
}

// EnabledContacts returns the candidates for on-call selection.
func (db *DB) EnabledContacts(ctx context.Context) ([]Contact, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+contactColumns+` FROM address_book WHERE enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("enabled contacts: %w", err)
	}
	defer rows.Close()
	return collectContacts(rows)
}

func collectContacts(rows pgx.Rows) ([]Contact, error) {
	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
