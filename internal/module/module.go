// Package module defines the fixed set of CRM record types the sync engine mirrors.
package module

import "fmt"

// Kind identifies one of the vendor's mirrored record types.
type Kind string

const (
	Leads    Kind = "Leads"
	Deals    Kind = "Deals"
	Contacts Kind = "Contacts"
	Accounts Kind = "Accounts"
)

// All lists every supported module in a stable order, used for per-module
// poller scheduling and sync-metadata bootstrap.
var All = []Kind{Leads, Deals, Contacts, Accounts}

// Parse validates a module name from an untrusted source (URL path, webhook
// body, admin query string) and rejects anything outside the fixed set.
func Parse(s string) (Kind, error) {
	switch Kind(s) {
	case Leads, Deals, Contacts, Accounts:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownModule, s)
	}
}

func (k Kind) Valid() bool {
	_, err := Parse(string(k))
	return err == nil
}

func (k Kind) String() string { return string(k) }

var ErrUnknownModule = fmt.Errorf("module: unrecognized module")
