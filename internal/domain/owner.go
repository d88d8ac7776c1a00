package domain

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// OwnerKind discriminates the two cart identities.
type OwnerKind string

const (
	OwnerCustomer OwnerKind = "customer"
	OwnerGuest    OwnerKind = "guest"
)

// CartOwner identifies whose cart an operation acts on. It is either a
// registered customer or an anonymous guest keyed by network address, never
// both. The zero value is not a valid owner.
type CartOwner struct {
	kind       OwnerKind
	customerID int64
	address    netip.Addr
}

// CustomerOwner returns the owner for a registered customer.
func CustomerOwner(id int64) (CartOwner, error) {
	if id <= 0 {
		return CartOwner{}, NewValidationError("owner.customer", "customer_id", "must be a positive integer")
	}
	return CartOwner{kind: OwnerCustomer, customerID: id}, nil
}

// GuestOwner returns the owner for an anonymous visitor. The address is
// validated and canonicalized so that equivalent spellings share one cart.
func GuestOwner(address string) (CartOwner, error) {
	addr, err := ParseGuestAddress(address)
	if err != nil {
		return CartOwner{}, err
	}
	return CartOwner{kind: OwnerGuest, address: addr}, nil
}

// GuestOwnerFromAddr returns the guest owner for an already parsed address.
func GuestOwnerFromAddr(addr netip.Addr) CartOwner {
	return CartOwner{kind: OwnerGuest, address: canonicalAddr(addr)}
}

// ParseGuestAddress validates a textual IP address and returns its
// canonical form. IPv4-mapped IPv6 addresses are unmapped and zones dropped.
func ParseGuestAddress(address string) (netip.Addr, error) {
	s := strings.TrimSpace(address)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")

	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.IsValid() {
		return netip.Addr{}, InvalidAddress("owner.guest", address)
	}
	return canonicalAddr(addr), nil
}

func canonicalAddr(addr netip.Addr) netip.Addr {
	return addr.Unmap().WithZone("")
}

// ParseOwner rebuilds an owner from its storage representation.
func ParseOwner(kind, ref string) (CartOwner, error) {
	switch OwnerKind(kind) {
	case OwnerCustomer:
		id, err := strconv.ParseInt(ref, 10, 64)
		if err != nil {
			return CartOwner{}, fmt.Errorf("invalid customer owner ref %q: %w", ref, err)
		}
		return CustomerOwner(id)
	case OwnerGuest:
		return GuestOwner(ref)
	default:
		return CartOwner{}, fmt.Errorf("unknown owner kind %q", kind)
	}
}

// Kind returns the owner discriminator.
func (o CartOwner) Kind() OwnerKind { return o.kind }

// IsZero reports whether o was never initialized.
func (o CartOwner) IsZero() bool { return o.kind == "" }

func (o CartOwner) IsCustomer() bool { return o.kind == OwnerCustomer }

func (o CartOwner) IsGuest() bool { return o.kind == OwnerGuest }

// CustomerID returns the customer id when o is a customer.
func (o CartOwner) CustomerID() (int64, bool) {
	if o.kind != OwnerCustomer {
		return 0, false
	}
	return o.customerID, true
}

// GuestAddress returns the canonical guest address when o is a guest.
func (o CartOwner) GuestAddress() (string, bool) {
	if o.kind != OwnerGuest {
		return "", false
	}
	return o.address.String(), true
}

// Ref returns the storage key within the owner kind.
func (o CartOwner) Ref() string {
	switch o.kind {
	case OwnerCustomer:
		return strconv.FormatInt(o.customerID, 10)
	case OwnerGuest:
		return o.address.String()
	}
	return ""
}

// String renders the owner as kind:ref, suitable for logs and cache keys.
func (o CartOwner) String() string {
	if o.IsZero() {
		return "none"
	}
	return string(o.kind) + ":" + o.Ref()
}

// MarshalJSON renders the owner as {"kind": ..., "ref": ...}.
func (o CartOwner) MarshalJSON() ([]byte, error) {
	if o.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(struct {
		Kind OwnerKind `json:"kind"`
		Ref  string    `json:"ref"`
	}{o.kind, o.Ref()})
}
