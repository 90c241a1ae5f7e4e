package client

import (
	"context"
	"time"
)

// AddressBook talks to the address book service.
type AddressBook struct {
	base
}

func NewAddressBook(baseURL, token string, timeout time.Duration) *AddressBook {
	return &AddressBook{base: newBase(baseURL, token, timeout)}
}

// OnCallContact is one entry of the current on-call roster, in duty order.
type OnCallContact struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Surname     string `json:"surname"`
	PhoneNumber string `json:"phone_number"`
	Priority    int    `json:"priority"`
}

// OnCallRoster is the on-call selection at a point in time. PhoneNumber is
// the primary callee; Contacts holds the full ordered roster so callers can
// walk the backup chain.
type OnCallRoster struct {
	PhoneNumber string          `json:"phone_number"`
	Contacts    []OnCallContact `json:"contacts"`
}

// OnCall returns the roster of contacts currently on duty.
func (c *AddressBook) OnCall(ctx context.Context) (OnCallRoster, error) {
	var out OnCallRoster
	err := c.do(ctx, "GET", "/on_call_contact", nil, &out)
	return out, err
}
