package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Transactor runs fn so that every repository call made with the context it
// receives commits or rolls back together. Nested calls join the outer
// transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// Conn returns the transaction in ctx, or pool when there is none.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// PoolTransactor runs transactions on a pgx pool.
type PoolTransactor struct {
	pool *pgxpool.Pool
}

func NewTransactor(pool *pgxpool.Pool) *PoolTransactor {
	return &PoolTransactor{pool: pool}
}

func (t *PoolTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return MapError("commit", err)
	}
	return nil
}

type localKey struct{}

type localTx struct {
	undo []func()
}

func (lt *localTx) rollback() {
	for i := len(lt.undo) - 1; i >= 0; i-- {
		lt.undo[i]()
	}
	lt.undo = nil
}

// OnRollback registers undo with the local transaction carried by ctx.
// Registered functions run newest first when the transaction fails. Outside
// a local transaction it does nothing.
func OnRollback(ctx context.Context, undo func()) {
	if lt, ok := ctx.Value(localKey{}).(*localTx); ok {
		lt.undo = append(lt.undo, undo)
	}
}

// RestoreOnRollback records the current state of key in m so a failed local
// transaction puts it back. Call it with mu held, before writing key.
func RestoreOnRollback[K comparable, V any](ctx context.Context, mu sync.Locker, m map[K]V, key K) {
	prev, existed := m[key]
	OnRollback(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if existed {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
}

// LocalTransactor serialises units of work for the in-memory repositories.
// Repositories register compensations through OnRollback, which are applied
// when fn returns an error or panics.
type LocalTransactor struct {
	mu sync.Mutex
}

func NewLocalTransactor() *LocalTransactor {
	return &LocalTransactor{}
}

func (t *LocalTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(localKey{}).(*localTx); ok {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	lt := &localTx{}
	defer func() {
		if p := recover(); p != nil {
			lt.rollback()
			panic(p)
		}
	}()
	if err := fn(context.WithValue(ctx, localKey{}, lt)); err != nil {
		lt.rollback()
		return err
	}
	return nil
}
