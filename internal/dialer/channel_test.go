package dialer

import (
	"context"
	"errors"
	"testing"

	"github.com/snarg/klaxon/internal/client"
)

// ── endpoint templates ──────────────────────────────────────────────

func TestChannelEndpoint(t *testing.T) {
	tests := []struct {
		chanType string
		phone    string
		want     string
	}{
		{"Local/{phone}@out", "+15550001", "Local/+15550001@out"},
		{"PJSIP/trunk", "+15550001", "PJSIP/+15550001@trunk"},
		{"SIP", "+15550001", "SIP/+15550001"},
		{"SIP/{phone}", "351", "SIP/351"},
	}
	for _, tt := range tests {
		if got := ChannelEndpoint(tt.chanType, tt.phone); got != tt.want {
			t.Errorf("ChannelEndpoint(%q, %q) = %q, want %q", tt.chanType, tt.phone, got, tt.want)
		}
	}
}

func TestIsOnCallAlias(t *testing.T) {
	for _, phone := range []string{"oncall", "ONCALL", "OnCall"} {
		if !IsOnCallAlias(phone) {
			t.Errorf("IsOnCallAlias(%q) = false, want true", phone)
		}
	}
	for _, phone := range []string{"", "+15550001", "oncall2"} {
		if IsOnCallAlias(phone) {
			t.Errorf("IsOnCallAlias(%q) = true, want false", phone)
		}
	}
}

// ── resolvers ───────────────────────────────────────────────────────

func TestLiteralResolverPassesAliasThrough(t *testing.T) {
	got, err := LiteralResolver{}.Resolve(context.Background(), "oncall")
	if err != nil || got != "oncall" {
		t.Errorf("Resolve = %q, %v", got, err)
	}
}

func TestAddressBookResolverLiteralSkipsLookup(t *testing.T) {
	roster := &fakeRoster{err: errors.New("must not be called")}
	r := NewAddressBookResolver(roster)

	got, err := r.Resolve(context.Background(), "+15550001")
	if err != nil || got != "+15550001" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
	if roster.lookups != 0 {
		t.Error("a literal number must not hit the address book")
	}
}

func TestAddressBookResolverResolvesAlias(t *testing.T) {
	roster := &fakeRoster{oncall: client.OnCallRoster{PhoneNumber: "+15559999"}}
	r := NewAddressBookResolver(roster)

	got, err := r.Resolve(context.Background(), "oncall")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "+15559999" {
		t.Errorf("Resolve = %q, want the on-call primary", got)
	}
}

func TestAddressBookResolverEmptyRoster(t *testing.T) {
	r := NewAddressBookResolver(&fakeRoster{})

	if _, err := r.Resolve(context.Background(), "oncall"); err == nil {
		t.Fatal("expected an error when nobody is on call")
	}
}

func TestAddressBookResolverBookError(t *testing.T) {
	bookErr := errors.New("address book down")
	r := NewAddressBookResolver(&fakeRoster{err: bookErr})

	_, err := r.Resolve(context.Background(), "oncall")
	if !errors.Is(err, bookErr) {
		t.Errorf("err = %v, want the book error wrapped", err)
	}
}
