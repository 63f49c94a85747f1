// Package depottest is a conformance suite run against every depot
// backend, so a change to one implementation can't silently diverge from
// the Storable contract the others honor.
package depottest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittovault/pkg/block"
	"github.com/marmos91/dittovault/pkg/depot"
	"github.com/marmos91/dittovault/pkg/eid"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

// Factory builds a fresh, unopened Storable for each subtest.
type Factory func(t *testing.T) depot.Storable

// RunSuite exercises the full depot.Storable contract against stores
// built by factory. Call it from each backend's own _test.go with a
// factory that returns a clean backend (e.g. a fresh temp dir or map).
func RunSuite(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("InitThenExists", func(t *testing.T) {
		ctx := context.Background()
		s := factory(t)
		require.NoError(t, s.Connect(ctx))
		require.NoError(t, s.Init(ctx))
		defer s.Close(ctx)

		exists, err := s.Exists(ctx)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("SuperBlockRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		s := openedStore(t, factory)
		defer s.Close(ctx)

		payload := []byte("super-block-left-arm")
		require.NoError(t, s.PutSuperBlock(ctx, 0, payload))

		got, err := s.GetSuperBlock(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("SuperBlockOverwrite", func(t *testing.T) {
		ctx := context.Background()
		s := openedStore(t, factory)
		defer s.Close(ctx)

		require.NoError(t, s.PutSuperBlock(ctx, 1, []byte("v1")))
		require.NoError(t, s.PutSuperBlock(ctx, 1, []byte("v2")))

		got, err := s.GetSuperBlock(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("SuperBlockMissingSlotNotFound", func(t *testing.T) {
		ctx := context.Background()
		s := openedStore(t, factory)
		defer s.Close(ctx)

		_, err := s.GetSuperBlock(ctx, 99)
		require.Error(t, err)
		assert.True(t, vaulterr.Is(err, vaulterr.NotFound))
	})

	t.Run("AddressRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		s := openedStore(t, factory)
		defer s.Close(ctx)

		id := eid.MustNew()
		addr := []byte("serialized-address-bytes")

		require.NoError(t, s.PutAddress(ctx, id, addr))

		got, err := s.GetAddress(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, addr, got)

		require.NoError(t, s.DelAddress(ctx, id))
		_, err = s.GetAddress(ctx, id)
		require.Error(t, err)
		assert.True(t, vaulterr.Is(err, vaulterr.NotFound))
	})

	t.Run("AddressMissingIsNotFound", func(t *testing.T) {
		ctx := context.Background()
		s := openedStore(t, factory)
		defer s.Close(ctx)

		_, err := s.GetAddress(ctx, eid.MustNew())
		require.Error(t, err)
		assert.True(t, vaulterr.Is(err, vaulterr.NotFound))
	})

	t.Run("DeletingMissingAddressIsNotAnError", func(t *testing.T) {
		ctx := context.Background()
		s := openedStore(t, factory)
		defer s.Close(ctx)

		require.NoError(t, s.DelAddress(ctx, eid.MustNew()))
	})

	t.Run("BlocksRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		s := openedStore(t, factory)
		defer s.Close(ctx)

		span := block.Span{Begin: 0, Count: 3}
		data := make([]byte, span.Bytes())
		for i := range data {
			data[i] = byte(i)
		}

		require.NoError(t, s.PutBlocks(ctx, span, data))

		got, err := s.GetBlocks(ctx, span)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("BlocksPartialOverwrite", func(t *testing.T) {
		ctx := context.Background()
		s := openedStore(t, factory)
		defer s.Close(ctx)

		full := block.Span{Begin: 10, Count: 4}
		data := make([]byte, full.Bytes())
		for i := range data {
			data[i] = 0xAA
		}
		require.NoError(t, s.PutBlocks(ctx, full, data))

		middle := block.Span{Begin: 11, Count: 2}
		overwrite := make([]byte, middle.Bytes())
		for i := range overwrite {
			overwrite[i] = 0xBB
		}
		require.NoError(t, s.PutBlocks(ctx, middle, overwrite))

		got, err := s.GetBlocks(ctx, full)
		require.NoError(t, err)
		assert.Equal(t, byte(0xAA), got[0])
		assert.Equal(t, byte(0xBB), got[int(block.Size)])
		assert.Equal(t, byte(0xAA), got[int(3*block.Size)])
	})

	t.Run("PutBlocksRejectsLengthMismatch", func(t *testing.T) {
		ctx := context.Background()
		s := openedStore(t, factory)
		defer s.Close(ctx)

		span := block.Span{Begin: 0, Count: 2}
		err := s.PutBlocks(ctx, span, make([]byte, block.Size))
		require.Error(t, err)
	})

	t.Run("DelBlocksThenGetIsNotFound", func(t *testing.T) {
		ctx := context.Background()
		s := openedStore(t, factory)
		defer s.Close(ctx)

		span := block.Span{Begin: 20, Count: 1}
		require.NoError(t, s.PutBlocks(ctx, span, make([]byte, span.Bytes())))
		require.NoError(t, s.DelBlocks(ctx, span))

		_, err := s.GetBlocks(ctx, span)
		require.Error(t, err)
	})

	t.Run("FlushIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		s := openedStore(t, factory)
		defer s.Close(ctx)

		require.NoError(t, s.Flush(ctx))
		require.NoError(t, s.Flush(ctx))
	})

	t.Run("ClosedStoreRejectsOperations", func(t *testing.T) {
		ctx := context.Background()
		s := openedStore(t, factory)

		require.NoError(t, s.Close(ctx))

		_, err := s.GetSuperBlock(ctx, 0)
		require.Error(t, err)
	})
}

func openedStore(t *testing.T, factory Factory) depot.Storable {
	t.Helper()
	ctx := context.Background()
	s := factory(t)
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Init(ctx))
	return s
}
