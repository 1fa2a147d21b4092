// Package ledger keeps account balances for the chain. Balances are objectdb
// rows, so every debit and credit is reverted with the enclosing undo
// session.
package ledger

import (
	"fmt"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/objectdb"
)

const byOwnerAsset = "by_owner_asset"

// Ledger debits payers and credits pools and winners.
type Ledger struct {
	balances *objectdb.Table[domain.ObjectID, domain.AccountBalance]
}

// New creates a ledger whose balances live in db.
func New(db *objectdb.DB) *Ledger {
	t := objectdb.NewTable[domain.ObjectID, domain.AccountBalance](
		db, "account_balance", domain.ImplementationSpace, domain.AccountBalanceType, nil,
	)
	t.AddIndex(objectdb.IndexSpec[domain.AccountBalance]{
		Name:   byOwnerAsset,
		Unique: true,
		Key:    func(b domain.AccountBalance) string { return balanceKey(b.Owner, b.AssetID) },
	})
	return &Ledger{balances: t}
}

func balanceKey(owner domain.AccountID, asset domain.AssetID) string {
	return string(owner) + "|" + string(asset)
}

// Balance returns the amount of asset held by account.
func (l *Ledger) Balance(account domain.AccountID, asset domain.AssetID) int64 {
	b, err := l.balances.Find(byOwnerAsset, balanceKey(account, asset))
	if err != nil {
		return 0
	}
	return b.Balance
}

// Credit adds amount to account.
func (l *Ledger) Credit(account domain.AccountID, amount domain.Asset) error {
	if amount.Amount < 0 {
		return domain.Consistencyf("ledger: negative credit %s to %s", amount, account)
	}
	if amount.Amount == 0 {
		return nil
	}
	return l.adjust(account, amount.AssetID, amount.Amount)
}

// Debit removes amount from account. Overdrafts are rejected.
func (l *Ledger) Debit(account domain.AccountID, amount domain.Asset) error {
	if amount.Amount < 0 {
		return domain.Consistencyf("ledger: negative debit %s from %s", amount, account)
	}
	if amount.Amount == 0 {
		return nil
	}
	if have := l.Balance(account, amount.AssetID); have < amount.Amount {
		return domain.Preconditionf("insufficient balance: %s has %d, needs %s", account, have, amount)
	}
	return l.adjust(account, amount.AssetID, -amount.Amount)
}

// Transfer moves amount between two accounts.
func (l *Ledger) Transfer(from, to domain.AccountID, amount domain.Asset) error {
	if err := l.Debit(from, amount); err != nil {
		return err
	}
	return l.Credit(to, amount)
}

// Burn removes amount from circulation by crediting the null account.
func (l *Ledger) Burn(amount domain.Asset) error {
	return l.Credit(domain.NullAccount, amount)
}

// Burned returns the total amount of asset sent to the null account.
func (l *Ledger) Burned(asset domain.AssetID) int64 {
	return l.Balance(domain.NullAccount, asset)
}

// Balances returns every balance row in id order.
func (l *Ledger) Balances() []domain.AccountBalance {
	return l.balances.All()
}

func (l *Ledger) adjust(account domain.AccountID, asset domain.AssetID, delta int64) error {
	b, err := l.balances.Find(byOwnerAsset, balanceKey(account, asset))
	if err != nil {
		_, err = l.balances.Create(func(id domain.ObjectID) domain.AccountBalance {
			return domain.AccountBalance{ID: id, Owner: account, AssetID: asset, Balance: delta}
		})
		if err != nil {
			return fmt.Errorf("ledger: open balance: %w", err)
		}
		return nil
	}
	_, err = l.balances.Modify(b.ID, func(row *domain.AccountBalance) error {
		next := row.Balance + delta
		if (delta > 0 && next < row.Balance) || next < 0 {
			return domain.Consistencyf("ledger: balance overflow for %s", account)
		}
		row.Balance = next
		return nil
	})
	return err
}
