package vote_test

import (
	"bytes"
	"testing"

	"github.com/spacemeshos/go-scale"
	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/mbf/content"
	"github.com/spacemeshos/mbf/mbf"
	"github.com/spacemeshos/mbf/vote"
)

func TestEncodeDecode(t *testing.T) {
	t.Parallel()
	factory := testFactory(t)
	unit := content.NewBytesUnit("au", testContent(30))
	v := generate(t, factory, unit, []byte("wire"), 7, config(mbf.MBF2), 1<<12)

	data, err := vote.Encode(v)
	require.NoError(t, err)
	decoded, err := vote.Decode(data)
	require.NoError(t, err)
	require.Equal(t, v, decoded)

	c := verify(t, factory, unit, decoded, config(mbf.MBF2), 1<<12)
	require.True(t, c.Valid())
}

func TestEncodeLimits(t *testing.T) {
	t.Parallel()

	_, err := vote.Encode(&vote.Vote{Nonce: make([]byte, vote.MaxNonceSize+1)})
	require.Error(t, err)

	_, err = vote.Encode(&vote.Vote{Blocks: make([]vote.Block, vote.MaxBlocks+1)})
	require.Error(t, err)

	_, err = vote.Encode(&vote.Vote{Blocks: []vote.Block{{Hash: make([]byte, vote.MaxHashSize+1)}}})
	require.Error(t, err)
}

func TestDecodeRejectsOversizedBlockCount(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enc := scale.NewEncoder(&buf)
	_, err := scale.EncodeByteSlice(enc, []byte("nonce"))
	require.NoError(t, err)
	_, err = scale.EncodeCompact64(enc, 1)
	require.NoError(t, err)
	_, err = scale.EncodeCompact32(enc, vote.MaxBlocks+1)
	require.NoError(t, err)

	_, err = vote.Decode(buf.Bytes())
	require.Error(t, err)
}

func TestDecodeTruncated(t *testing.T) {
	t.Parallel()
	v := &vote.Vote{
		Nonce:  []byte("n"),
		Effort: 3,
		Blocks: []vote.Block{{Proof: mbf.Proof{1, 2}, Hash: []byte{1, 2, 3}}},
	}
	data, err := vote.Encode(v)
	require.NoError(t, err)

	_, err = vote.Decode(data[:len(data)-1])
	require.Error(t, err)
}
