package database

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex"`
	Qty  int
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(sqlite.Open("file::memory:"), Config{Driver: "sqlite", MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&widget{}))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := WithTx(ctx, db.DB, func(txCtx context.Context) error {
		require.NoError(t, Conn(txCtx, db.DB).Create(&widget{Name: "a"}).Error)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&widget{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWithTxNestedReusesTransaction(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := WithTx(ctx, db.DB, func(outer context.Context) error {
		return WithTx(outer, db.DB, func(inner context.Context) error {
			assert.Same(t, Conn(outer, db.DB), Conn(inner, db.DB))
			return Conn(inner, db.DB).Create(&widget{Name: "b"}).Error
		})
	})
	require.NoError(t, err)

	var w widget
	require.NoError(t, db.Where("name = ?", "b").First(&w).Error)
}

func TestUpsertColumns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, Conn(ctx, db.DB).Create(&widget{Name: "c", Qty: 1}).Error)
	require.NoError(t, Conn(ctx, db.DB).Clauses(UpsertColumns([]string{"name"}, []string{"qty"})).
		Create(&widget{Name: "c", Qty: 5}).Error)

	var w widget
	require.NoError(t, db.Where("name = ?", "c").First(&w).Error)
	assert.Equal(t, 5, w.Qty)

	require.NoError(t, Conn(ctx, db.DB).Clauses(UpsertColumns([]string{"name"}, nil)).
		Create(&widget{Name: "c", Qty: 9}).Error)
	require.NoError(t, db.Where("name = ?", "c").First(&w).Error)
	assert.Equal(t, 5, w.Qty)
}

