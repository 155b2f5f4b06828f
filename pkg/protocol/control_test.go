package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

// The greeting layouts can never change without breaking every deployed
// peer, so they are pinned to exact bytes.
func TestClientGreetingWireLayout(t *testing.T) {
	var buf bytes.Buffer
	g := ClientGreeting{Compatibility: 1, Debug: true, Extension: 3}
	require.NoError(t, g.Encode(&buf))
	assert.Equal(t, []byte{0x01, 0x00, 0x01, 0x03}, buf.Bytes())

	got, err := DecodeClientGreeting(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, g, got)
}

func TestServerGreetingWireLayout(t *testing.T) {
	var buf bytes.Buffer
	g := ServerGreeting{Compatibility: 1, Extension: 4}
	require.NoError(t, g.Encode(&buf))
	assert.Equal(t, []byte{0x01, 0x00, 0x04}, buf.Bytes())

	got, err := DecodeServerGreeting(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, g, got)
}

func TestPortRangeCombine(t *testing.T) {
	pr := func(begin, end uint16) PortRange { return PortRange{Begin: begin, End: end} }
	config := pr(42, 88)

	// Defaults: the other side wins.
	got, err := PortRange{}.Combine(config)
	require.NoError(t, err)
	assert.Equal(t, config, got)
	got, err = config.Combine(PortRange{})
	require.NoError(t, err)
	assert.Equal(t, config, got)

	// Overlap each end.
	got, err = config.Combine(pr(77, 99))
	require.NoError(t, err)
	assert.Equal(t, pr(77, 88), got)
	got, err = config.Combine(pr(5, 49))
	require.NoError(t, err)
	assert.Equal(t, pr(42, 49), got)

	// Superset and subset.
	got, err = config.Combine(pr(5, 123))
	require.NoError(t, err)
	assert.Equal(t, pr(42, 88), got)
	got, err = config.Combine(pr(51, 62))
	require.NoError(t, err)
	assert.Equal(t, pr(51, 62), got)

	// Disjoint is a hard failure.
	_, err = config.Combine(pr(123, 456))
	assert.Error(t, err)
}

func roundTripMessage(t *testing.T, in, out wire.Message) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFramed(&buf, in))
	require.NoError(t, wire.ReadFramed(&buf, out))
}

func TestClientMessageRoundTrip(t *testing.T) {
	params := TransferParams{
		BandwidthToServer: 12_500_000,
		BandwidthToClient: 37_500_000,
		RttMs:             300,
		Congestion:        CongestionCubic,
		TimeoutSeconds:    5,
	}

	t.Run("v1", func(t *testing.T) {
		in := &ClientMessage{V1: &ClientMessageV1{
			Cert:           []byte{1, 2, 3},
			ConnectionType: ConnectionIPv4,
			PortRange:      PortRange{Begin: 10000, End: 10010},
			Params:         params,
		}}
		var out ClientMessage
		roundTripMessage(t, in, &out)
		assert.Equal(t, in.V1, out.V1)

		typ, cert, err := out.Credentials()
		require.NoError(t, err)
		assert.Equal(t, CredentialsX509, typ)
		assert.Equal(t, []byte{1, 2, 3}, cert)
	})

	t.Run("v2", func(t *testing.T) {
		in := &ClientMessage{V2: &ClientMessageV2{
			Credentials:    wire.Tagged(uint64(CredentialsRawPublicKey), wire.BytesVariant([]byte{9, 9})),
			ConnectionType: ConnectionIPv6,
			PortRange:      PortRange{},
			Params:         params,
			Extension:      []wire.TaggedData{wire.TaggedUnsigned(42, 7)},
		}}
		var out ClientMessage
		roundTripMessage(t, in, &out)
		require.NotNil(t, out.V2)
		assert.True(t, in.V2.Credentials.Equal(out.V2.Credentials))
		assert.Equal(t, in.V2.Params, out.V2.Params)
		require.Len(t, out.V2.Extension, 1)
		assert.True(t, in.V2.Extension[0].Equal(out.V2.Extension[0]))

		typ, spki, err := out.Credentials()
		require.NoError(t, err)
		assert.Equal(t, CredentialsRawPublicKey, typ)
		assert.Equal(t, []byte{9, 9}, spki)
	})
}

// A V2 message with an empty extension list must encode identically to
// the same message with the legacy reserved zero byte: the list's empty
// form is the single byte 0x00.
func TestEmptyExtensionMatchesReservedByte(t *testing.T) {
	in := &ClientMessage{V2: &ClientMessageV2{
		Credentials:    wire.Tagged(uint64(CredentialsX509), wire.BytesVariant([]byte{1})),
		ConnectionType: ConnectionIPv4,
	}}
	data, err := wire.EncodeMessage(in)
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), data[len(data)-1])
}

func TestServerMessageRoundTrip(t *testing.T) {
	in := &ServerMessage{V2: &ServerMessageV2{
		Credentials: wire.Tagged(uint64(CredentialsX509), wire.BytesVariant([]byte{5, 6, 7})),
		Port:        12345,
		Name:        "remotehost",
		Params:      TransferParams{BandwidthToServer: 1000, Congestion: CongestionNewReno},
		Warning:     "buffer too small",
	}}
	var out ServerMessage
	roundTripMessage(t, in, &out)
	require.NotNil(t, out.V2)
	assert.Equal(t, uint16(12345), out.PortValue())
	assert.Equal(t, "buffer too small", out.WarningValue())
	assert.Equal(t, in.V2.Params, out.V2.Params)
}

func TestClosedownReportWireLayout(t *testing.T) {
	in := &ClosedownReport{V1: &ClosedownReportV1{
		Cwnd:             42,
		SentPackets:      65,
		LostPackets:      66,
		LostBytes:        456_798,
		CongestionEvents: 44,
		BlackHoles:       49,
		SentBytes:        987_654,
	}}
	data, err := wire.EncodeMessage(in)
	require.NoError(t, err)
	expected := []byte{
		0x01,             // V1
		0x2a,             // cwnd
		0x41,             // sent packets
		0x42,             // lost packets
		0xde, 0xf0, 0x1b, // lost bytes
		0x2c,             // congestion events
		0x31,             // black holes
		0x86, 0xa4, 0x3c, // sent bytes
		0x00, // empty extension list
	}
	assert.Equal(t, expected, data)

	var out ClosedownReport
	require.NoError(t, wire.DecodeMessage(&out, data))
	assert.Equal(t, in.V1, out.V1)
}

func TestClosedownReportExtensions(t *testing.T) {
	in := &ClosedownReport{V1: &ClosedownReportV1{
		Cwnd: 1,
		Extension: []wire.TaggedData{
			wire.TaggedUnsigned(ClosedownExtPmtu, 1452),
			wire.TaggedUnsigned(ClosedownExtRtt, 300_000),
		},
	}}
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFramed(&buf, in))
	var out ClosedownReport
	require.NoError(t, wire.ReadFramed(&buf, &out))

	pmtu, ok := wire.FindUnsigned(out.V1.Extension, ClosedownExtPmtu)
	assert.True(t, ok)
	assert.Equal(t, uint64(1452), pmtu)
	rtt, ok := wire.FindUnsigned(out.V1.Extension, ClosedownExtRtt)
	assert.True(t, ok)
	assert.Equal(t, uint64(300_000), rtt)
}

func TestClosedownReportReservedDiscriminant(t *testing.T) {
	var out ClosedownReport
	err := wire.DecodeMessage(&out, []byte{0x00})
	assert.ErrorIs(t, err, wire.ErrUnknownDiscriminant)
}

func TestCongestionAlgorithmParse(t *testing.T) {
	a, err := ParseCongestionAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, CongestionCubic, a)
	a, err = ParseCongestionAlgorithm("newreno")
	require.NoError(t, err)
	assert.Equal(t, CongestionNewReno, a)
	_, err = ParseCongestionAlgorithm("vegas")
	assert.Error(t, err)

	f, gated := CongestionNewReno.RequiredFeature()
	assert.True(t, gated)
	assert.Equal(t, FeatureNewReno, f)
	_, gated = CongestionCubic.RequiredFeature()
	assert.False(t, gated)
}
