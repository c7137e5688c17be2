package params

// NetworkID is a public identifier for this ledger instance. It is used as a
// domain separator in keystore headers and reported by the health endpoint.
const NetworkID = "memledger_local"

// ChainVersion is the block header version written by this release.
const ChainVersion = 1
