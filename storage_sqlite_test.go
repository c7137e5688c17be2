package main

import (
	"database/sql"
	"errors"
	"testing"

	"memledger/core"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSQLiteStorage(t *testing.T) (*SQLiteStorage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStorageFromDB(db), mock
}

func TestSQLiteCommitRollsBackOnOutputFailure(t *testing.T) {
	store, mock := newMockSQLiteStorage(t)
	genesis, err := core.NewGenesisBlock()
	require.NoError(t, err)
	block := mustSealedChild(t, genesis, testAddress(t))

	mock.ExpectBegin()
	mock.ExpectQuery(sqlSelectHead).
		WillReturnRows(sqlmock.NewRows([]string{"hash", "idx"}).AddRow(genesis.Hash, 0))
	mock.ExpectExec(sqlInsertBlock).
		WithArgs(block.Hash, int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(sqlInsertUTXO).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = store.CommitBlock(blockCommitFor(block))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert utxo")
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteCommitRejectsMissingSpend(t *testing.T) {
	store, mock := newMockSQLiteStorage(t)
	genesis, err := core.NewGenesisBlock()
	require.NoError(t, err)
	block := mustSealedChild(t, genesis, testAddress(t))
	commit := &BlockCommit{Block: block, SpentKeys: []string{"gone:0"}}

	mock.ExpectBegin()
	mock.ExpectQuery(sqlSelectHead).
		WillReturnRows(sqlmock.NewRows([]string{"hash", "idx"}).AddRow(genesis.Hash, 0))
	mock.ExpectExec(sqlInsertBlock).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(sqlSelectUTXO).
		WithArgs("gone:0").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))
	mock.ExpectRollback()

	err = store.CommitBlock(commit)
	assert.ErrorIs(t, err, ErrOutputMissing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteCommitLinkageCheckedBeforeWrites(t *testing.T) {
	store, mock := newMockSQLiteStorage(t)
	genesis, err := core.NewGenesisBlock()
	require.NoError(t, err)
	block := mustSealedChild(t, genesis, testAddress(t))

	// Empty store: only genesis may be written.
	mock.ExpectBegin()
	mock.ExpectQuery(sqlSelectHead).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err = store.CommitBlock(blockCommitFor(block))
	assert.ErrorIs(t, err, ErrHeadLinkage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteCommitRejectsUnsealedBlock(t *testing.T) {
	store, mock := newMockSQLiteStorage(t)

	err := store.CommitBlock(&BlockCommit{Block: &core.Block{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sealed hash")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteLedgerEndToEnd(t *testing.T) {
	store, err := NewSQLiteStorage(t.TempDir())
	require.NoError(t, err)
	l := mustOpenTestLedger(t, store)
	w := mustCreateWallet(t, l)

	mustFund(t, l, w)
	balance, err := l.GetBalance(w.Address())
	require.NoError(t, err)
	assert.Equal(t, core.Coins(50), balance)
	assert.True(t, l.IsChainValid())
	assert.Equal(t, 2, l.Chain().Length())
}
