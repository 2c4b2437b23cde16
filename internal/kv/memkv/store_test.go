package memkv_test

import (
	"context"
	"errors"
	"testing"

	"github.com/finledger/ledgercore/internal/kv"
	"github.com/finledger/ledgercore/internal/kv/memkv"
	"github.com/stretchr/testify/assert"
)

func record(pk, sk string, version int64, status string) kv.Record {
	return kv.Record{
		Key:        kv.Key{PK: pk, SK: sk},
		Version:    version,
		Status:     status,
		Attributes: map[string]string{"pk": pk},
	}
}

func TestStore_Read(t *testing.T) {
	store := memkv.NewStore()
	ctx := context.Background()

	t.Run("absent record", func(t *testing.T) {
		_, err := store.Read(ctx, kv.Key{PK: "USER#u1", SK: "BALANCE"})
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("returns a copy", func(t *testing.T) {
		assert.NoError(t, store.Put(ctx, record("USER#u1", "BALANCE", 1, ""), kv.IfAbsent()))

		got, err := store.Read(ctx, kv.Key{PK: "USER#u1", SK: "BALANCE"})
		assert.NoError(t, err)

		got.Attributes["pk"] = "mutated"

		again, err := store.Read(ctx, kv.Key{PK: "USER#u1", SK: "BALANCE"})
		assert.NoError(t, err)
		assert.Equal(t, "USER#u1", again.Attributes["pk"])
	})
}

func TestStore_Put(t *testing.T) {
	ctx := context.Background()

	t.Run("if absent rejects existing", func(t *testing.T) {
		store := memkv.NewStore()
		assert.NoError(t, store.Put(ctx, record("a", "b", 1, ""), kv.IfAbsent()))

		err := store.Put(ctx, record("a", "b", 2, ""), kv.IfAbsent())
		assert.ErrorIs(t, err, kv.ErrConditionFailed)
	})

	t.Run("version predicate", func(t *testing.T) {
		store := memkv.NewStore()
		assert.NoError(t, store.Put(ctx, record("a", "b", 3, ""), kv.IfAbsent()))

		assert.ErrorIs(t, store.Put(ctx, record("a", "b", 4, ""), kv.IfVersion(2)), kv.ErrConditionFailed)
		assert.NoError(t, store.Put(ctx, record("a", "b", 4, ""), kv.IfVersion(3)))
	})

	t.Run("absent-or-version covers both branches", func(t *testing.T) {
		store := memkv.NewStore()
		assert.NoError(t, store.Put(ctx, record("a", "b", 1, ""), kv.IfAbsentOrVersion(0)))
		assert.NoError(t, store.Put(ctx, record("a", "b", 2, ""), kv.IfAbsentOrVersion(1)))
		assert.ErrorIs(t, store.Put(ctx, record("a", "b", 3, ""), kv.IfAbsentOrVersion(1)), kv.ErrConditionFailed)
	})

	t.Run("status predicate", func(t *testing.T) {
		store := memkv.NewStore()
		assert.NoError(t, store.Put(ctx, record("a", "b", 1, "pending"), kv.IfAbsent()))

		assert.ErrorIs(t, store.Put(ctx, record("a", "b", 1, "completed"), kv.IfStatus("failed")), kv.ErrConditionFailed)
		assert.NoError(t, store.Put(ctx, record("a", "b", 1, "completed"), kv.IfStatus("pending")))
	})
}

func TestStore_Commit(t *testing.T) {
	ctx := context.Background()

	t.Run("applies all writes", func(t *testing.T) {
		store := memkv.NewStore()
		err := store.Commit(ctx, []kv.Write{
			{Record: record("a", "1", 1, ""), Predicate: kv.IfAbsent()},
			{Record: record("a", "2", 1, ""), Predicate: kv.IfAbsent()},
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, store.Len())
	})

	t.Run("failed predicate leaves no partial state", func(t *testing.T) {
		store := memkv.NewStore()
		assert.NoError(t, store.Put(ctx, record("a", "2", 5, ""), kv.IfAbsent()))

		err := store.Commit(ctx, []kv.Write{
			{Record: record("a", "1", 1, ""), Predicate: kv.IfAbsent()},
			{Record: record("a", "2", 6, ""), Predicate: kv.IfVersion(4)},
		})

		var condErr *kv.ConditionError
		assert.True(t, errors.As(err, &condErr))
		assert.Equal(t, 1, condErr.Index)
		assert.Equal(t, kv.Key{PK: "a", SK: "2"}, condErr.Key)

		_, readErr := store.Read(ctx, kv.Key{PK: "a", SK: "1"})
		assert.ErrorIs(t, readErr, kv.ErrNotFound)

		unchanged, readErr := store.Read(ctx, kv.Key{PK: "a", SK: "2"})
		assert.NoError(t, readErr)
		assert.Equal(t, int64(5), unchanged.Version)
	})

	t.Run("delete write", func(t *testing.T) {
		store := memkv.NewStore()
		assert.NoError(t, store.Put(ctx, record("a", "1", 1, "pending"), kv.IfAbsent()))

		err := store.Commit(ctx, []kv.Write{{
			Record:    kv.Record{Key: kv.Key{PK: "a", SK: "1"}},
			Predicate: kv.IfStatus("pending"),
			Delete:    true,
		}})
		assert.NoError(t, err)
		assert.Equal(t, 0, store.Len())
	})
}
