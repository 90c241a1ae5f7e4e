package dialer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/snarg/klaxon/internal/client"
)

// OnCallAlias is the phone value that resolves through the address book.
const OnCallAlias = "oncall"

// IsOnCallAlias reports whether phone names the on-call roster instead of a
// number.
func IsOnCallAlias(phone string) bool {
	return strings.EqualFold(phone, OnCallAlias)
}

// ChannelEndpoint renders the originate endpoint for phone from the
// configured channel-type template. Three forms are accepted:
//
//	"Local/{phone}@out"  -> "Local/+15550001@out"   ({phone} substitution)
//	"PJSIP/trunk"        -> "PJSIP/+15550001@trunk" (prefix/suffix pair)
//	"SIP"                -> "SIP/+15550001"         (bare technology)
func ChannelEndpoint(chanType, phone string) string {
	if strings.Contains(chanType, "{phone}") {
		return strings.ReplaceAll(chanType, "{phone}", phone)
	}
	if prefix, suffix, ok := strings.Cut(chanType, "/"); ok {
		return prefix + "/" + phone + "@" + suffix
	}
	return chanType + "/" + phone
}

// OnCallResolver turns the phone argument of place_call into a dialable
// number.
type OnCallResolver interface {
	Resolve(ctx context.Context, phone string) (string, error)
}

// LiteralResolver passes every phone through unchanged, including the
// "oncall" alias. Useful for tests and single-callee deployments.
type LiteralResolver struct{}

func (LiteralResolver) Resolve(_ context.Context, phone string) (string, error) {
	return phone, nil
}

// rosterClient is the address-book lookup the resolver needs.
type rosterClient interface {
	OnCall(ctx context.Context) (client.OnCallRoster, error)
}

// AddressBookResolver resolves the "oncall" alias to the current primary
// contact; literal numbers pass through.
type AddressBookResolver struct {
	book rosterClient
}

func NewAddressBookResolver(book rosterClient) *AddressBookResolver {
	return &AddressBookResolver{book: book}
}

func (r *AddressBookResolver) Resolve(ctx context.Context, phone string) (string, error) {
	if !IsOnCallAlias(phone) {
		return phone, nil
	}
	roster, err := r.book.OnCall(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve oncall: %w", err)
	}
	if roster.PhoneNumber == "" {
		return "", errors.New("resolve oncall: nobody is on call")
	}
	return roster.PhoneNumber, nil
}
