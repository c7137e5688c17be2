package params

// Ledger-level constants shared by the core, the miner and the wallet.
//
// Kept out of the root package so the wallet can build rewards and change
// outputs without importing the engine.
const (
	// CoinDecimals is the number of fractional digits in an Amount.
	CoinDecimals = 8

	// Coin is one whole coin in base units.
	Coin uint64 = 100_000_000

	// BlockReward is the fixed reward credited to a block's miner.
	BlockReward = 50 * Coin

	// DefaultDifficulty is the number of leading zero hex digits a sealed
	// block hash must carry.
	DefaultDifficulty = 4

	// MaxDifficulty caps configured difficulty; a SHA-256 hex digest has 64 digits.
	MaxDifficulty = 64

	// DefaultMaxSealAttempts bounds a single proof-of-work search.
	DefaultMaxSealAttempts uint64 = 1 << 26

	// GenesisTimestamp is the fixed genesis header time (unix millis).
	GenesisTimestamp int64 = 1_704_067_200_000
)
