package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/doint-ledger/internal/amount"
)

// posting accumulates balance changes inside one transaction and writes them
// at commit. Transfers, taxes, UBI and opt-outs all move value through it,
// so the no-negative-balance check lives in exactly one place.
type posting struct {
	tx    Tx
	batch uuid.UUID
	now   time.Time

	bank      *Bank
	bankDirty bool

	users   map[uint64]*User
	order   []uint64
	dirty   map[uint64]bool
	removed map[uint64]bool

	journal []JournalEntry
}

func newPosting(tx Tx, now time.Time) *posting {
	return &posting{
		tx:      tx,
		batch:   uuid.New(),
		now:     now,
		users:   make(map[uint64]*User),
		dirty:   make(map[uint64]bool),
		removed: make(map[uint64]bool),
	}
}

// useBank seeds the posting with a bank row already read for update.
func (p *posting) useBank(b Bank) {
	p.bank = &b
}

// useUsers seeds the posting with user rows already read for update.
func (p *posting) useUsers(users []User) {
	for i := range users {
		u := users[i]
		if _, ok := p.users[u.ID]; ok {
			continue
		}
		p.users[u.ID] = &u
		p.order = append(p.order, u.ID)
	}
}

func (p *posting) loadBank(ctx context.Context) (*Bank, error) {
	if p.bank != nil {
		return p.bank, nil
	}
	b, err := p.tx.Bank(ctx, true)
	if err != nil {
		return nil, err
	}
	p.bank = &b
	return p.bank, nil
}

func (p *posting) loadUser(ctx context.Context, id uint64) (*User, bool, error) {
	if u, ok := p.users[id]; ok {
		return u, true, nil
	}
	u, found, err := p.tx.User(ctx, id, true)
	if err != nil || !found {
		return nil, found, err
	}
	p.users[id] = &u
	p.order = append(p.order, id)
	return p.users[id], true, nil
}

// lock reads the bank first when asked and then the users in ascending id
// order, so concurrent postings take row locks in one global order.
func (p *posting) lock(ctx context.Context, withBank bool, parties ...Party) error {
	if withBank {
		if _, err := p.loadBank(ctx); err != nil {
			return err
		}
	}
	var ids []uint64
	for _, party := range parties {
		if id, ok := party.UserID(); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if _, _, err := p.loadUser(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// balance returns the party's current balance within this posting.
// found is false for a user that does not exist.
func (p *posting) balance(ctx context.Context, party Party) (amount.Amount, bool, error) {
	if party.IsBank() {
		b, err := p.loadBank(ctx)
		if err != nil {
			return amount.Zero, false, err
		}
		return b.OnHand, true, nil
	}
	id, _ := party.UserID()
	u, found, err := p.loadUser(ctx, id)
	if err != nil || !found {
		return amount.Zero, found, err
	}
	return u.Balance, true, nil
}

func (p *posting) adjust(ctx context.Context, party Party, delta amount.Amount) error {
	if party.IsBank() {
		b, err := p.loadBank(ctx)
		if err != nil {
			return err
		}
		b.OnHand = b.OnHand.Add(delta)
		p.bankDirty = true
		return nil
	}
	id, ok := party.UserID()
	if !ok {
		return &InvalidPartyError{Party: party}
	}
	u, found, err := p.loadUser(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return &InvalidPartyError{Party: party}
	}
	u.Balance = u.Balance.Add(delta)
	p.dirty[id] = true
	return nil
}

// move debits from and credits to by amt. Zero moves are skipped.
func (p *posting) move(ctx context.Context, from, to Party, amt amount.Amount) error {
	if amt.IsZero() {
		return nil
	}
	if err := p.adjust(ctx, from, amt.Neg()); err != nil {
		return err
	}
	return p.adjust(ctx, to, amt)
}

// mint grows both the bank's liquid holdings and the recorded supply.
func (p *posting) mint(ctx context.Context, amt amount.Amount) error {
	b, err := p.loadBank(ctx)
	if err != nil {
		return err
	}
	b.OnHand = b.OnHand.Add(amt)
	b.Total = b.Total.Add(amt)
	p.bankDirty = true
	return nil
}

// remove deletes the user row at commit instead of saving it.
func (p *posting) remove(id uint64) {
	p.removed[id] = true
}

func (p *posting) record(kind JournalKind, reason string, from, to Party, amt, fee amount.Amount) uuid.UUID {
	e := JournalEntry{
		ID:        uuid.New(),
		BatchID:   p.batch,
		Kind:      kind,
		Reason:    reason,
		Sender:    from,
		Recipient: to,
		Amount:    amt,
		Fee:       fee,
		CreatedAt: p.now,
	}
	p.journal = append(p.journal, e)
	return e.ID
}

// commit refuses any negative balance, then writes the touched rows and the
// journal. The caller's transaction is rolled back on any error.
func (p *posting) commit(ctx context.Context) error {
	if p.bankDirty && p.bank.OnHand.IsNegative() {
		return &NegativeBalanceError{Party: BankParty(), Balance: p.bank.OnHand}
	}
	for _, id := range p.order {
		if u := p.users[id]; p.dirty[id] && u.Balance.IsNegative() {
			return &NegativeBalanceError{Party: UserParty(id), Balance: u.Balance}
		}
	}

	if p.bankDirty {
		if err := p.tx.SaveBank(ctx, *p.bank); err != nil {
			return err
		}
	}
	for _, id := range p.order {
		switch {
		case p.removed[id]:
			if err := p.tx.DeleteUser(ctx, id); err != nil {
				return err
			}
		case p.dirty[id]:
			if err := p.tx.SaveUser(ctx, *p.users[id]); err != nil {
				return err
			}
		}
	}
	for _, e := range p.journal {
		if err := p.tx.InsertJournal(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
