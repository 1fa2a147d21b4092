package chain

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

type stateImage struct {
	Head     uint64                     `json:"head"`
	Time     uint32                     `json:"time"`
	Balances []domain.AccountBalance    `json:"balances"`
	Pairs    []domain.CoinPair          `json:"pairs"`
	Dynamic  []domain.OracleDynamicData `json:"dynamic"`
	Fixed    []domain.OracleFixedData   `json:"fixed"`
	Buckets  []domain.PriceBucket       `json:"buckets"`
	Profile  domain.SubjectProfile      `json:"profile"`
	Subjects []domain.Subject           `json:"subjects"`
	Stats    []domain.SubjectStatistics `json:"statistics"`
	Votes    []domain.SubjectVote       `json:"votes"`
	Events   []domain.SubjectEvent      `json:"events"`
	Modules  []domain.ModuleConfig      `json:"modules"`
}

// StateDigest hashes every consensus object with Keccak-256. Tables are
// listed in id order and encoding/json sorts map keys, so two nodes with
// the same state produce the same digest.
func (d *Database) StateDigest() (string, error) {
	img := stateImage{
		Head:     d.clock.num,
		Time:     d.clock.time,
		Balances: d.ledger.Balances(),
		Profile:  d.subjects.Profile(),
		Modules:  d.modules.All(),
	}
	img.Pairs, img.Dynamic, img.Fixed, img.Buckets = d.oracle.HotObjects()
	img.Subjects, img.Stats, img.Votes, img.Events = d.subjects.Snapshot()

	raw, err := json.Marshal(img)
	if err != nil {
		return "", fmt.Errorf("chain: encode state: %w", err)
	}
	return crypto.Keccak256Hash(raw).Hex(), nil
}
