package domain

// Object IDs follow the "space.type.instance" layout. Instances are allocated
// sequentially per table so every node derives the same IDs.
type (
	ObjectID     string
	AccountID    string
	AssetID      string
	CoinID       string
	DynamicID    string
	FixedID      string
	BucketID     string
	SubjectID    string
	StatisticsID string
	VoteID       string
	EventID      string
	ModuleCfgID  string
)

// Object spaces.
const (
	ProtocolSpace       = 1
	ImplementationSpace = 2
)

// Protocol-space type ids.
const (
	AccountType      = 2
	AssetType        = 3
	CoinType         = 20
	SubjectType      = 21
	SubjectVoteType  = 22
	SubjectEventType = 23
	ModuleCfgType    = 24
)

// Implementation-space type ids.
const (
	AccountBalanceType    = 5
	CoinDynamicType       = 20
	CoinFixedType         = 21
	CoinPriceBucketType   = 22
	SubjectStatisticsType = 23
	SubjectProfileType    = 24
)

// CoreAsset is the chain's native asset. Stakes and fees must be denominated
// in it.
const CoreAsset AssetID = "1.3.0"

// Well-known accounts.
const (
	CommitteeAccount AccountID = "1.2.0"
	WitnessAccount   AccountID = "1.2.1"
	NullAccount      AccountID = "1.2.3"
)
