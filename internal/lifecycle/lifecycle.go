// Package lifecycle decides which status a transfer may move to next and
// which branch may move it there.
package lifecycle

import (
	"errors"
	"strings"

	"github.com/erazemk/filial/internal/model"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrMissingInvoiceKey = errors.New("invoice key required to ship")
	ErrNotParticipant    = errors.New("branch is not a participant of this transfer")
)

// Role is a branch's relation to a transfer.
type Role int

const (
	RoleNone Role = iota
	RoleRequester
	RoleSupplier
)

func (r Role) String() string {
	switch r {
	case RoleRequester:
		return "requester"
	case RoleSupplier:
		return "supplier"
	default:
		return "none"
	}
}

// RoleOf returns the role branch plays in t. Requester and supplier are
// never the same branch, so the result is unambiguous.
func RoleOf(t *model.Transfer, branch string) Role {
	switch {
	case branch == "":
		return RoleNone
	case branch == t.SupplierBranch:
		return RoleSupplier
	case branch == t.RequesterBranch:
		return RoleRequester
	default:
		return RoleNone
	}
}

// step is one edge of the lifecycle and the role allowed to take it.
type step struct {
	next Status
	by   Role
}

type Status = model.Status

var transitions = map[Status]step{
	model.StatusRequested: {next: model.StatusPreparing, by: RoleSupplier},
	model.StatusPreparing: {next: model.StatusShipped, by: RoleSupplier},
	model.StatusShipped:   {next: model.StatusCompleted, by: RoleRequester},
}

// NextAllowedStatus returns the status the caller may move a transfer to
// from current. The second result is false when the caller has no legal
// move, including when current is terminal or unknown.
func NextAllowedStatus(current Status, isSupplier, isRequester bool) (Status, bool) {
	s, ok := transitions[current]
	if !ok {
		return "", false
	}
	switch s.by {
	case RoleSupplier:
		if isSupplier {
			return s.next, true
		}
	case RoleRequester:
		if isRequester {
			return s.next, true
		}
	}
	return "", false
}

// Terminal reports whether no transition leaves s.
func Terminal(s Status) bool {
	_, ok := transitions[s]
	return !ok && s.Valid()
}

// Request carries the caller's intent for a transition.
type Request struct {
	// Target is the status the caller expects to reach. Empty means the
	// next legal status, whatever it is.
	Target Status
	// InvoiceKey is the access key of the shipping invoice. Only consulted
	// when entering Shipped.
	InvoiceKey string
	// InvoiceURL points at the uploaded invoice file, if any.
	InvoiceURL string
}

// Plan checks whether actor may apply req to t and returns the status t
// would enter. It does not modify t.
func Plan(t *model.Transfer, actor string, req Request) (Status, error) {
	role := RoleOf(t, actor)
	if role == RoleNone {
		return "", ErrNotParticipant
	}

	next, ok := NextAllowedStatus(t.Status, role == RoleSupplier, role == RoleRequester)
	if !ok {
		return "", ErrInvalidTransition
	}
	if req.Target != "" && req.Target != next {
		return "", ErrInvalidTransition
	}

	if next == model.StatusShipped && NormalizeInvoiceKey(req.InvoiceKey) == "" {
		return "", ErrMissingInvoiceKey
	}
	return next, nil
}

// NormalizeInvoiceKey strips whitespace from a scanned or typed access key.
func NormalizeInvoiceKey(key string) string {
	return strings.Join(strings.Fields(key), "")
}
