package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soundtime-fm/p2p/internal/catalog"
	"github.com/soundtime-fm/p2p/internal/wire"
)

type staticOnline map[wire.NodeId]bool

func (s staticOnline) IsOnline(id wire.NodeId) bool { return s[id] }

func TestSelectBestCopyPrefersHigherFormatAndBitrate(t *testing.T) {
	now := time.Now()
	refs := []catalog.RemoteReference{
		{PeerNodeID: "node-a", Format: "MP3", BitrateKbps: 320, SampleRate: 44100, LastAvailableAt: now},
		{PeerNodeID: "node-c", Format: "FLAC", BitrateKbps: 1411, SampleRate: 44100, LastAvailableAt: now},
	}
	online := staticOnline{"node-a": true, "node-c": true}

	best := SelectBestCopy(refs, online)
	require.Len(t, best, 2)
	require.Equal(t, wire.NodeId("node-c"), best[0].PeerNodeID)
}

func TestSelectBestCopyDiscardsDereferencedAndOffline(t *testing.T) {
	refs := []catalog.RemoteReference{
		{PeerNodeID: "node-a", Format: "FLAC", HealthStatus: catalog.Dereferenced},
		{PeerNodeID: "node-b", Format: "FLAC"},
		{PeerNodeID: "node-c", Format: "FLAC"},
	}
	online := staticOnline{"node-b": true}

	best := SelectBestCopy(refs, online)
	require.Len(t, best, 1)
	require.Equal(t, wire.NodeId("node-b"), best[0].PeerNodeID)
}

func TestSelectBestCopyTieBreaksByRecencyThenNodeId(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	refs := []catalog.RemoteReference{
		{PeerNodeID: "node-z", Format: "FLAC", LastAvailableAt: older},
		{PeerNodeID: "node-a", Format: "FLAC", LastAvailableAt: newer},
		{PeerNodeID: "node-b", Format: "FLAC", LastAvailableAt: newer},
	}
	online := staticOnline{"node-z": true, "node-a": true, "node-b": true}

	best := SelectBestCopy(refs, online)
	require.Len(t, best, 3)
	require.Equal(t, wire.NodeId("node-a"), best[0].PeerNodeID)
	require.Equal(t, wire.NodeId("node-b"), best[1].PeerNodeID)
	require.Equal(t, wire.NodeId("node-z"), best[2].PeerNodeID)
}

func TestSelectBestCopyIsDeterministicAcrossCalls(t *testing.T) {
	refs := []catalog.RemoteReference{
		{PeerNodeID: "node-a", Format: "AAC", BitrateKbps: 256},
		{PeerNodeID: "node-b", Format: "OGG", BitrateKbps: 320},
		{PeerNodeID: "node-c", Format: "OPUS", BitrateKbps: 192},
	}
	online := staticOnline{"node-a": true, "node-b": true, "node-c": true}

	first := SelectBestCopy(refs, online)
	second := SelectBestCopy(refs, online)
	require.Equal(t, first, second)
}

func TestNormalizeFormatIsCaseInsensitive(t *testing.T) {
	require.Equal(t, rankFor("flac"), rankFor("FLAC"))
	require.Equal(t, rankFor("Flac"), rankFor("FLAC"))
}
