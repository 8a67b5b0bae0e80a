package fileheader

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := New("Zc.4", "posting list file")
	h.Set(TagFormat1, "EG2PosOcc")
	h.SetUint("docIdLimit", 1024)
	h.SetFrozen(65536)

	encoded := h.Encode()
	require.Zero(t, len(encoded)%Align)

	got, err := Decode(encoded)
	require.NoError(t, err)
	require.NoError(t, got.RequireTags(TagFrozen, TagFileBitSize, TagFormat0, TagEndian))
	require.NoError(t, got.RequireFormat("Zc.4"))
	require.True(t, got.IsFrozen())

	v, err := got.GetUint(TagFileBitSize)
	require.NoError(t, err)
	require.EqualValues(t, 65536, v)

	dl, err := got.GetUint("docIdLimit")
	require.NoError(t, err)
	require.EqualValues(t, 1024, dl)
}

func TestRequireFormatRejectsMismatch(t *testing.T) {
	h := New("Zc.4", "x")
	encoded := h.Encode()
	got, err := Decode(encoded)
	require.NoError(t, err)
	require.Error(t, got.RequireFormat("Zc.5"))
}

func TestMissingTagIsFatal(t *testing.T) {
	h := &Header{tags: map[string]string{TagEndian: EndianBig}}
	encoded := h.Encode()
	got, err := Decode(encoded)
	require.NoError(t, err)
	require.Error(t, got.RequireTags(TagFormat0))
}
