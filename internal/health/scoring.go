package health

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/soundtime-fm/p2p/internal/catalog"
	"github.com/soundtime-fm/p2p/internal/wire"
)

// Scoring weights from spec.md §4.5's select_best_copy formula.
const (
	weightFormat     = 0.6
	weightBitrate    = 0.3
	weightSampleRate = 0.1

	bitrateCeilingKbps = 1411
	sampleRateCeilingHz = 192000
)

var formatRank = map[string]float64{
	"FLAC": 1.0,
	"WAV":  0.9,
	"OPUS": 0.7,
	"OGG":  0.6,
	"AAC":  0.5,
	"MP3":  0.3,
}

var formatCaser = cases.Upper(language.Und)

// normalizeFormat upper-cases a format tag so mixed-case or lower-case
// tags from older peers ("flac", "Flac") still hit the rank table.
func normalizeFormat(format string) string {
	return formatCaser.String(strings.TrimSpace(format))
}

func rankFor(format string) float64 {
	if r, ok := formatRank[normalizeFormat(format)]; ok {
		return r
	}
	return 0
}

// score computes select_best_copy's per-reference score.
func score(ref catalog.RemoteReference) float64 {
	bitrate := float64(ref.BitrateKbps)
	if bitrate > bitrateCeilingKbps {
		bitrate = bitrateCeilingKbps
	}
	sampleRate := float64(ref.SampleRate)
	if sampleRate > sampleRateCeilingHz {
		sampleRate = sampleRateCeilingHz
	}

	return rankFor(ref.Format)*weightFormat +
		(bitrate/bitrateCeilingKbps)*weightBitrate +
		(sampleRate/sampleRateCeilingHz)*weightSampleRate
}

// SelectBestCopy ranks refs for one content hash best-first: Dereferenced
// and offline-peer references are discarded, survivors are scored by
// format/bitrate/sample-rate, ties broken by most-recent LastAvailableAt
// then by NodeId for a fully deterministic order (testable property 2's
// round-trip law depends on this being pure and stable).
func SelectBestCopy(refs []catalog.RemoteReference, online OnlineChecker) []catalog.RemoteReference {
	candidates := make([]catalog.RemoteReference, 0, len(refs))
	for _, ref := range refs {
		if ref.HealthStatus == catalog.Dereferenced {
			continue
		}
		if !online.IsOnline(ref.PeerNodeID) {
			continue
		}
		candidates = append(candidates, ref)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := score(candidates[i]), score(candidates[j])
		if si != sj {
			return si > sj
		}
		if !candidates[i].LastAvailableAt.Equal(candidates[j].LastAvailableAt) {
			return candidates[i].LastAvailableAt.After(candidates[j].LastAvailableAt)
		}
		return candidates[i].PeerNodeID < candidates[j].PeerNodeID
	})
	return candidates
}

// OnlineChecker reports whether a NodeId is currently online. Satisfied
// by an adapter over internal/registry.Registry at the wiring site —
// health must not import registry directly, matching catalog's
// PeerLister boundary.
type OnlineChecker interface {
	IsOnline(id wire.NodeId) bool
}
