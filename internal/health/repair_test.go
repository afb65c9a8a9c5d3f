package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soundtime-fm/p2p/internal/catalog"
	"github.com/soundtime-fm/p2p/internal/wire"
)

func TestRepairTriesOriginNodeFirst(t *testing.T) {
	store := catalog.NewMemStore()
	_, err := store.UpsertRemoteReference(context.Background(), "node-origin", "bafy-1", "node-origin")
	require.NoError(t, err)
	_, err = store.UpsertRemoteReference(context.Background(), "node-other", "bafy-1", "node-origin")
	require.NoError(t, err)

	prober := newFakeProber()
	online := staticOnline{"node-origin": true, "node-other": true}
	r := NewRepairer(store, prober, online, nil)

	data, err := r.Repair(context.Background(), "bafy-1", "node-origin")
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), data)
}

func TestRepairFallsBackToBestCopyOnOriginFailure(t *testing.T) {
	store := catalog.NewMemStore()
	_, err := store.UpsertRemoteReference(context.Background(), "node-origin", "bafy-2", "node-origin")
	require.NoError(t, err)
	_, err = store.UpsertRemoteReference(context.Background(), "node-fallback", "bafy-2", "node-origin")
	require.NoError(t, err)

	prober := newFakeProber()
	prober.setFailing("node-origin", true)
	online := staticOnline{"node-origin": true, "node-fallback": true}
	r := NewRepairer(store, prober, online, nil)

	data, err := r.Repair(context.Background(), "bafy-2", "node-origin")
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), data)

	ref, ok, err := store.GetRemoteReference(context.Background(), "node-origin", "bafy-2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, catalog.Degraded, ref.HealthStatus)
	require.Equal(t, 1, ref.ConsecutiveFailures)
}

func TestRepairSurfacesAllCandidatesFailed(t *testing.T) {
	store := catalog.NewMemStore()
	_, err := store.UpsertRemoteReference(context.Background(), "node-origin", "bafy-3", "node-origin")
	require.NoError(t, err)

	prober := newFakeProber()
	prober.setFailing("node-origin", true)
	online := staticOnline{"node-origin": true}
	r := NewRepairer(store, prober, online, nil)

	_, err = r.Repair(context.Background(), "bafy-3", "node-origin")
	require.ErrorIs(t, err, ErrAllCandidatesFailed)
}

func TestRepairNoCandidatesReturnsAllFailed(t *testing.T) {
	store := catalog.NewMemStore()
	prober := newFakeProber()
	online := staticOnline{}
	r := NewRepairer(store, prober, online, nil)

	_, err := r.Repair(context.Background(), wire.ContentHash("bafy-absent"), "node-origin")
	require.ErrorIs(t, err, ErrAllCandidatesFailed)
}
