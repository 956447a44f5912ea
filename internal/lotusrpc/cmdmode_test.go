package lotusrpc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	filbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

// fakeLotus writes an executable standing in for the lotus binary
func fakeLotus(t *testing.T, script string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "lotus")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return p
}

func testCid(t *testing.T) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum([]byte("qabot"), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

func TestFormatFIL(t *testing.T) {
	testCases := map[string]filbig.Int{
		"0":                    filbig.Zero(),
		"1":                    filbig.NewInt(1_000_000_000_000_000_000),
		"10":                   filbig.Mul(filbig.NewInt(10), filbig.NewInt(1_000_000_000_000_000_000)),
		"0.0000000005":         filbig.NewInt(500_000_000),
		"0.000000000000000001": filbig.NewInt(1),
	}
	for exp, atto := range testCases {
		require.Equal(t, exp, FormatFIL(atto))
	}

	require.Equal(t, "0", FormatFIL(filbig.Int{}))
}

func TestRemoveLineBreaks(t *testing.T) {
	require.Equal(t, "bafyabc", removeLineBreaks("bafy\r\nabc\n"))
}

func TestCmdStartDealParsesOutput(t *testing.T) {
	c := testCid(t)
	cc := NewCmdClient(nil, fakeLotus(t, "echo "+c.String()))

	got, err := cc.StartDeal(context.Background(), &StartDealParams{
		Data:       &DataRef{Root: c},
		EpochPrice: filbig.NewInt(1),
	})
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestCmdRetrieveStopsOnContext(t *testing.T) {
	cc := NewCmdClient(nil, fakeLotus(t, "sleep 30"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	t0 := time.Now()
	err := cc.Retrieve(ctx, RetrievalOrder{Root: testCid(t)}, filepath.Join(t.TempDir(), "out"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(t0), 10*time.Second)
}

func TestCmdSkipsCancelledContext(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	cc := NewCmdClient(nil, fakeLotus(t, "touch "+marker))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cc.StartDeal(ctx, &StartDealParams{Data: &DataRef{Root: testCid(t)}})
	require.ErrorIs(t, err, context.Canceled)

	_, err = os.Stat(marker)
	require.True(t, os.IsNotExist(err))
}
