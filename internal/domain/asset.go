package domain

import "fmt"

// Asset is an amount of one asset in its smallest unit.
type Asset struct {
	Amount  int64   `json:"amount" validate:"gte=0"`
	AssetID AssetID `json:"asset_id" validate:"required"`
}

// CoreAmount is shorthand for an amount of the core asset.
func CoreAmount(amount int64) Asset {
	return Asset{Amount: amount, AssetID: CoreAsset}
}

func (a Asset) String() string {
	return fmt.Sprintf("%d %s", a.Amount, a.AssetID)
}

// CorePrecision is 10^digits of the core asset.
const CorePrecision int64 = 100000000

// AccountBalance is the amount of one asset held by one account.
type AccountBalance struct {
	ID      ObjectID  `json:"id"`
	Owner   AccountID `json:"owner"`
	AssetID AssetID   `json:"asset_type"`
	Balance int64     `json:"balance"`
}
