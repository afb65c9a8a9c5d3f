package p2pnet

import (
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"
)

func TestMDNSAddrTXTRecordsRoundTrip(t *testing.T) {
	addr1, err := ma.NewMultiaddr("/ip4/10.0.0.5/udp/4001/quic-v1/p2p/12D3KooWAbCdEfGhIjKlMnOpQrStUvWxYzAbCdEfGhIjKlMnOpQr")
	require.NoError(t, err)
	addr2, err := ma.NewMultiaddr("/ip4/10.0.0.5/tcp/4001/p2p/12D3KooWAbCdEfGhIjKlMnOpQrStUvWxYzAbCdEfGhIjKlMnOpQr")
	require.NoError(t, err)

	txts := mdnsAddrTXTRecords([]ma.Multiaddr{addr1, addr2})
	require.Len(t, txts, 2)
	for _, txt := range txts {
		require.Contains(t, txt, dnsaddrPrefix)
	}

	infos, err := parseMDNSTXTRecords(txts)
	require.NoError(t, err)
	require.Len(t, infos, 1, "both addrs share one peer ID")
	require.Len(t, infos[0].Addrs, 2)
}

func TestParseMDNSTXTRecordsIgnoresMalformedEntries(t *testing.T) {
	infos, err := parseMDNSTXTRecords([]string{"not-a-dnsaddr-entry", "dnsaddr=/garbage"})
	require.NoError(t, err)
	require.Empty(t, infos)
}

func TestParseMDNSTXTRecordsEmpty(t *testing.T) {
	infos, err := parseMDNSTXTRecords(nil)
	require.NoError(t, err)
	require.Empty(t, infos)
}
