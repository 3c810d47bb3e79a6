package ledger

import (
	"fmt"
	"strings"
)

// ReasonKind enumerates why value moves. New kinds must be classified in
// Reason.allows, which rejects anything it does not list.
type ReasonKind uint8

const (
	reasonInvalid ReasonKind = iota
	ReasonTaxCollection
	ReasonUniversalBasicIncome
	ReasonCasinoLoss
	ReasonCasinoWin
	ReasonUserPayment
	ReasonAnnotatedPayment
	ReasonCrimeRobbery
	ReasonBalanceSnoop
	ReasonOptOut
)

var reasonNames = map[ReasonKind]string{
	ReasonTaxCollection:        "tax_collection",
	ReasonUniversalBasicIncome: "universal_basic_income",
	ReasonCasinoLoss:           "casino_loss",
	ReasonCasinoWin:            "casino_win",
	ReasonUserPayment:          "user_payment",
	ReasonAnnotatedPayment:     "annotated_payment",
	ReasonCrimeRobbery:         "crime_robbery",
	ReasonBalanceSnoop:         "balance_snoop",
	ReasonOptOut:               "opt_out",
}

// AllReasonKinds lists every valid reason kind.
func AllReasonKinds() []ReasonKind {
	return []ReasonKind{
		ReasonTaxCollection,
		ReasonUniversalBasicIncome,
		ReasonCasinoLoss,
		ReasonCasinoWin,
		ReasonUserPayment,
		ReasonAnnotatedPayment,
		ReasonCrimeRobbery,
		ReasonBalanceSnoop,
		ReasonOptOut,
	}
}

func (k ReasonKind) String() string {
	if name, ok := reasonNames[k]; ok {
		return name
	}
	return "invalid"
}

// Reason tags a transfer. Only annotated payments carry a note.
type Reason struct {
	kind ReasonKind
	note string
}

var (
	TaxCollection        = Reason{kind: ReasonTaxCollection}
	UniversalBasicIncome = Reason{kind: ReasonUniversalBasicIncome}
	CasinoLoss           = Reason{kind: ReasonCasinoLoss}
	CasinoWin            = Reason{kind: ReasonCasinoWin}
	UserPayment          = Reason{kind: ReasonUserPayment}
	CrimeRobbery         = Reason{kind: ReasonCrimeRobbery}
	BalanceSnoop         = Reason{kind: ReasonBalanceSnoop}
	OptOut               = Reason{kind: ReasonOptOut}
)

// AnnotatedPayment is a user to user payment with a free-text note.
func AnnotatedPayment(note string) Reason {
	return Reason{kind: ReasonAnnotatedPayment, note: note}
}

func (r Reason) Kind() ReasonKind { return r.kind }
func (r Reason) Note() string     { return r.note }

func (r Reason) String() string {
	if r.kind == ReasonAnnotatedPayment && r.note != "" {
		return fmt.Sprintf("%s(%s)", r.kind, r.note)
	}
	return r.kind.String()
}

// ParseReason maps a reason name back to a Reason. The note is only kept for
// annotated payments.
func ParseReason(name, note string) (Reason, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	for kind, n := range reasonNames {
		if n != name {
			continue
		}
		if kind == ReasonAnnotatedPayment {
			return AnnotatedPayment(note), nil
		}
		return Reason{kind: kind}, nil
	}
	return Reason{}, fmt.Errorf("ledger: unknown transfer reason %q", name)
}

// allows reports whether value may flow from sender to recipient for this
// reason.
func (r Reason) allows(sender, recipient Party) bool {
	switch r.kind {
	case ReasonTaxCollection, ReasonCasinoLoss, ReasonBalanceSnoop, ReasonOptOut:
		return sender.IsUser() && recipient.IsBank()
	case ReasonUniversalBasicIncome, ReasonCasinoWin:
		return sender.IsBank() && recipient.IsUser()
	case ReasonUserPayment, ReasonAnnotatedPayment, ReasonCrimeRobbery:
		return sender.IsUser() && recipient.IsUser()
	case reasonInvalid:
		return false
	default:
		return false
	}
}
