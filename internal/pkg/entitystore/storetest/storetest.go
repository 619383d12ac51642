// Package storetest holds the behaviour every entitystore backend must share.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore"
)

type product struct {
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

// Run exercises a fresh store from newStore in every subtest.
func Run(t *testing.T, newStore func(t *testing.T) entitystore.Store) {
	t.Helper()
	ctx := context.Background()
	const table = "Product"

	t.Run("get missing row", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, table, "Product", "nope")
		assert.ErrorIs(t, err, entitystore.ErrNotFound)
	})

	t.Run("create only", func(t *testing.T) {
		s := newStore(t)
		tag, err := entitystore.PutAs(ctx, s, table, "Product", "p1", product{"Pen", 10}, entitystore.IfAbsent)
		require.NoError(t, err)
		assert.NotEmpty(t, tag)

		_, err = entitystore.PutAs(ctx, s, table, "Product", "p1", product{"Pen", 99}, entitystore.IfAbsent)
		assert.ErrorIs(t, err, entitystore.ErrConflict)

		got, gotTag, err := entitystore.GetAs[product](ctx, s, table, "Product", "p1")
		require.NoError(t, err)
		assert.Equal(t, product{"Pen", 10}, got)
		assert.Equal(t, tag, gotTag)
	})

	t.Run("compare and swap", func(t *testing.T) {
		s := newStore(t)
		first, err := entitystore.PutAs(ctx, s, table, "Product", "p1", product{"Pen", 10}, entitystore.IfAbsent)
		require.NoError(t, err)

		second, err := entitystore.PutAs(ctx, s, table, "Product", "p1", product{"Pen", 6}, first)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)

		_, err = entitystore.PutAs(ctx, s, table, "Product", "p1", product{"Pen", 1}, first)
		assert.ErrorIs(t, err, entitystore.ErrConflict, "stale etag must not overwrite")

		got, _, err := entitystore.GetAs[product](ctx, s, table, "Product", "p1")
		require.NoError(t, err)
		assert.Equal(t, 6, got.Stock)
	})

	t.Run("put with etag on missing row", func(t *testing.T) {
		s := newStore(t)
		_, err := entitystore.PutAs(ctx, s, table, "Product", "ghost", product{"Pen", 1}, entitystore.ETag("stale"))
		assert.ErrorIs(t, err, entitystore.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		_, err := entitystore.PutAs(ctx, s, table, "Product", "p1", product{"Pen", 10}, entitystore.IfAbsent)
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, table, "Product", "p1"))
		_, err = s.Get(ctx, table, "Product", "p1")
		assert.ErrorIs(t, err, entitystore.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, table, "Product", "p1"), entitystore.ErrNotFound)
	})

	t.Run("tables are isolated", func(t *testing.T) {
		s := newStore(t)
		_, err := entitystore.PutAs(ctx, s, "Order", "Product", "p1", product{"Other", 1}, entitystore.IfAbsent)
		require.NoError(t, err)
		_, err = s.Get(ctx, table, "Product", "p1")
		assert.ErrorIs(t, err, entitystore.ErrNotFound)
	})

	t.Run("scan filters by predicate", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"a", "b", "c"} {
			_, err := entitystore.PutAs(ctx, s, table, "Product", id, product{id, 1}, entitystore.IfAbsent)
			require.NoError(t, err)
		}
		_, err := entitystore.PutAs(ctx, s, table, "Archive", "z", product{"z", 1}, entitystore.IfAbsent)
		require.NoError(t, err)

		var names []string
		for v, err := range entitystore.ScanAs[product](ctx, s, table, entitystore.InPartition("Product")) {
			require.NoError(t, err)
			assert.NotEmpty(t, v.ETag)
			names = append(names, v.Value.Name)
		}
		assert.ElementsMatch(t, []string{"a", "b", "c"}, names)

		count := 0
		for _, err := range s.Scan(ctx, table, nil) {
			require.NoError(t, err)
			count++
		}
		assert.Equal(t, 4, count)
	})

	t.Run("scan stops when the consumer breaks", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"a", "b", "c"} {
			_, err := entitystore.PutAs(ctx, s, table, "Product", id, product{id, 1}, entitystore.IfAbsent)
			require.NoError(t, err)
		}
		seen := 0
		for range s.Scan(ctx, table, nil) {
			seen++
			break
		}
		assert.Equal(t, 1, seen)
	})

	t.Run("concurrent writers with the same etag", func(t *testing.T) {
		s := newStore(t)
		tag, err := entitystore.PutAs(ctx, s, table, "Product", "p1", product{"Pen", 5}, entitystore.IfAbsent)
		require.NoError(t, err)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := entitystore.PutAs(ctx, s, table, "Product", "p1", product{"Pen", i}, tag)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case assert.ErrorIs(t, err, entitystore.ErrConflict):
					conflicts++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, successes)
		assert.Equal(t, writers-1, conflicts)
	})
}
