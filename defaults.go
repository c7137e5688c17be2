package main

// Keep these centralized so main/daemon/cli/storage stay consistent.
const (
	DefaultDataDir          = "./memledger-data"
	DefaultChainDBFilename  = "memledger.chain.db"
	DefaultSQLiteFilename   = "memledger.chain.sqlite"
	DefaultKeystoreFilename = "memledger.wallet.dat"
	DefaultAPIListen        = "127.0.0.1:5000"
	DefaultAPICookieName    = "api.cookie"
)
