package ledger

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PartyKind distinguishes the central bank from user accounts.
type PartyKind uint8

const (
	partyInvalid PartyKind = iota
	PartyBank
	PartyUser
)

func (k PartyKind) String() string {
	switch k {
	case PartyBank:
		return "bank"
	case PartyUser:
		return "user"
	default:
		return "invalid"
	}
}

// Party is one side of a value movement: the Bank or a User identified by
// a stable numeric id. The zero value is not a valid party.
type Party struct {
	kind PartyKind
	id   uint64
}

// BankParty is the central bank account.
func BankParty() Party {
	return Party{kind: PartyBank}
}

// UserParty is the account of the user with the given id.
func UserParty(id uint64) Party {
	return Party{kind: PartyUser, id: id}
}

func (p Party) Kind() PartyKind { return p.kind }
func (p Party) IsBank() bool    { return p.kind == PartyBank }
func (p Party) IsUser() bool    { return p.kind == PartyUser }
func (p Party) Valid() bool     { return p.kind == PartyBank || p.kind == PartyUser }

// UserID returns the user id, or false for the bank.
func (p Party) UserID() (uint64, bool) {
	if p.kind != PartyUser {
		return 0, false
	}
	return p.id, true
}

// String renders "bank" or "user:<id>". ParseParty reverses it.
func (p Party) String() string {
	switch p.kind {
	case PartyBank:
		return "bank"
	case PartyUser:
		return "user:" + strconv.FormatUint(p.id, 10)
	default:
		return "invalid"
	}
}

// ParseParty reads "bank", "user:<id>" or a bare numeric user id.
// User ids must fit in a signed 64-bit column.
func ParseParty(s string) (Party, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "bank" {
		return BankParty(), nil
	}
	s = strings.TrimPrefix(s, "user:")
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id > math.MaxInt64 {
		return Party{}, fmt.Errorf("ledger: invalid party %q", s)
	}
	return UserParty(id), nil
}

func (p Party) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Party) UnmarshalText(b []byte) error {
	parsed, err := ParseParty(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
