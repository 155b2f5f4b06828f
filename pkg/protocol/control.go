package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

// Encoding limits for control-channel messages.
const (
	greetingWireLimit  = 4096
	messageWireLimit   = 4096
	closedownWireLimit = 4096
)

// ConnectionType selects the address family for the QUIC endpoint.
type ConnectionType uint8

// The wire values match the IP version number.
const (
	ConnectionIPv4 ConnectionType = 4
	ConnectionIPv6 ConnectionType = 6
)

func (c ConnectionType) String() string {
	switch c {
	case ConnectionIPv4:
		return "ipv4"
	case ConnectionIPv6:
		return "ipv6"
	}
	return fmt.Sprintf("ConnectionType(%d)", uint8(c))
}

func decodeConnectionType(r *bytes.Reader) (ConnectionType, error) {
	v, err := wire.ReadU8(r)
	if err != nil {
		return 0, err
	}
	ct := ConnectionType(v)
	if ct != ConnectionIPv4 && ct != ConnectionIPv6 {
		return 0, fmt.Errorf("connection type %d: %w", v, wire.ErrUnknownDiscriminant)
	}
	return ct, nil
}

// CongestionAlgorithm names the congestion controller for the QUIC
// connection. Cubic is the default; NewReno requires the NEW_RENO
// feature; Bbr is experimental.
type CongestionAlgorithm uint8

const (
	CongestionCubic CongestionAlgorithm = iota
	CongestionNewReno
	CongestionBbr
)

func (a CongestionAlgorithm) String() string {
	switch a {
	case CongestionCubic:
		return "cubic"
	case CongestionNewReno:
		return "newreno"
	case CongestionBbr:
		return "bbr"
	}
	return fmt.Sprintf("CongestionAlgorithm(%d)", uint8(a))
}

// ParseCongestionAlgorithm parses a configuration string.
func ParseCongestionAlgorithm(s string) (CongestionAlgorithm, error) {
	switch s {
	case "", "cubic":
		return CongestionCubic, nil
	case "newreno":
		return CongestionNewReno, nil
	case "bbr":
		return CongestionBbr, nil
	}
	return 0, fmt.Errorf("unknown congestion algorithm %q", s)
}

// RequiredFeature returns the feature gating this algorithm, if any.
func (a CongestionAlgorithm) RequiredFeature() (Feature, bool) {
	if a == CongestionNewReno {
		return FeatureNewReno, true
	}
	return Feature{}, false
}

// CredentialsType tags the credential payload carried in a control
// message. The tag values are frozen on the wire.
type CredentialsType uint64

const (
	// CredentialsAny is a configuration placeholder meaning "negotiate";
	// it never appears on the wire.
	CredentialsAny CredentialsType = 0
	// CredentialsX509 carries a full X.509 certificate in DER form.
	CredentialsX509 CredentialsType = 1
	// CredentialsRawPublicKey carries an RFC 7250 SubjectPublicKeyInfo.
	CredentialsRawPublicKey CredentialsType = 2
)

func (c CredentialsType) String() string {
	switch c {
	case CredentialsAny:
		return "any"
	case CredentialsX509:
		return "x509"
	case CredentialsRawPublicKey:
		return "rawpublickey"
	}
	return fmt.Sprintf("CredentialsType(%d)", uint64(c))
}

// PortRange is an inclusive range of UDP ports. The zero value means
// "any port". Port 0 cannot form part of a proper range.
type PortRange struct {
	Begin uint16
	End   uint16
}

// IsDefault reports whether the range is the "any port" default.
func (p PortRange) IsDefault() bool { return p.Begin == 0 && p.End == 0 }

func (p PortRange) String() string {
	if p.Begin == p.End {
		return fmt.Sprintf("%d", p.Begin)
	}
	return fmt.Sprintf("%d-%d", p.Begin, p.End)
}

// Combine resolves our configured range against the peer's preference.
// A default on either side yields the other; otherwise the intersection
// is taken, and an empty intersection is an error reported before any
// socket is bound.
func (p PortRange) Combine(theirs PortRange) (PortRange, error) {
	if p.IsDefault() {
		return theirs, nil
	}
	if theirs.IsDefault() {
		return p, nil
	}
	begin := max(p.Begin, theirs.Begin)
	end := min(p.End, theirs.End)
	if begin > end {
		return PortRange{}, fmt.Errorf("requested port range %s could not be satisfied (our config: %s)", theirs, p)
	}
	return PortRange{Begin: begin, End: end}, nil
}

func (p PortRange) encode(buf *bytes.Buffer) error {
	if err := wire.WriteU16(buf, p.Begin); err != nil {
		return err
	}
	return wire.WriteU16(buf, p.End)
}

func decodePortRange(r *bytes.Reader) (PortRange, error) {
	begin, err := wire.ReadU16(r)
	if err != nil {
		return PortRange{}, err
	}
	end, err := wire.ReadU16(r)
	if err != nil {
		return PortRange{}, err
	}
	return PortRange{Begin: begin, End: end}, nil
}

// ----------------------------------------------------------------------
// Greetings
//
// The greetings are the only unframed messages: each side sends its
// greeting without knowing anything about the peer, so the byte layout
// is frozen forever. ClientGreeting is exactly 4 bytes, ServerGreeting
// exactly 3.

// ClientGreeting opens the control channel.
type ClientGreeting struct {
	// Compatibility is the client's maximum supported protocol level.
	// Deliberately a bare integer, not an enum: a newer client must not
	// break an older server.
	Compatibility uint16
	// Debug asks the remote to emit debug output over its stderr.
	Debug bool
	// Extension is reserved and must be zero.
	Extension uint8
}

// Encode writes the frozen 4-byte layout.
func (g ClientGreeting) Encode(w io.Writer) error {
	var buf bytes.Buffer
	_ = wire.WriteU16(&buf, g.Compatibility)
	_ = wire.WriteBool(&buf, g.Debug)
	_ = wire.WriteU8(&buf, g.Extension)
	_, err := w.Write(buf.Bytes())
	return err
}

// DecodeClientGreeting reads the frozen 4-byte layout.
func DecodeClientGreeting(r io.Reader) (ClientGreeting, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return ClientGreeting{}, fmt.Errorf("read client greeting: %w", err)
	}
	if b[2] > 1 {
		return ClientGreeting{}, fmt.Errorf("client greeting: invalid debug byte %#x", b[2])
	}
	return ClientGreeting{
		Compatibility: uint16(b[0]) | uint16(b[1])<<8,
		Debug:         b[2] == 1,
		Extension:     b[3],
	}, nil
}

// ServerGreeting is the server's reply to the ClientGreeting.
type ServerGreeting struct {
	// Compatibility is the server's maximum supported protocol level.
	Compatibility uint16
	// Extension is reserved and must be zero.
	Extension uint8
}

// Encode writes the frozen 3-byte layout.
func (g ServerGreeting) Encode(w io.Writer) error {
	var buf bytes.Buffer
	_ = wire.WriteU16(&buf, g.Compatibility)
	_ = wire.WriteU8(&buf, g.Extension)
	_, err := w.Write(buf.Bytes())
	return err
}

// DecodeServerGreeting reads the frozen 3-byte layout.
func DecodeServerGreeting(r io.Reader) (ServerGreeting, error) {
	var b [3]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return ServerGreeting{}, fmt.Errorf("read server greeting: %w", err)
	}
	return ServerGreeting{
		Compatibility: uint16(b[0]) | uint16(b[1])<<8,
		Extension:     b[2],
	}, nil
}

// ----------------------------------------------------------------------
// Transfer parameters
//
// The negotiation inputs exchanged inside the client and server
// messages. Bandwidths are bytes per second; RTT is milliseconds.

// TransferParams carries the tunable transport parameters.
type TransferParams struct {
	BandwidthToServer uint64
	BandwidthToClient uint64
	RttMs             uint64
	Congestion        CongestionAlgorithm
	InitialCwnd       uint64 // 0 means the transport default
	TimeoutSeconds    uint64
}

func (p TransferParams) encode(buf *bytes.Buffer) error {
	for _, v := range []uint64{
		p.BandwidthToServer, p.BandwidthToClient, p.RttMs,
		uint64(p.Congestion), p.InitialCwnd, p.TimeoutSeconds,
	} {
		if err := wire.WriteUint(buf, v); err != nil {
			return err
		}
	}
	return nil
}

func decodeTransferParams(r *bytes.Reader) (TransferParams, error) {
	var vals [6]uint64
	for i := range vals {
		v, err := wire.ReadUint(r)
		if err != nil {
			return TransferParams{}, fmt.Errorf("transfer params: %w", err)
		}
		vals[i] = v
	}
	return TransferParams{
		BandwidthToServer: vals[0],
		BandwidthToClient: vals[1],
		RttMs:             vals[2],
		Congestion:        CongestionAlgorithm(vals[3]),
		InitialCwnd:       vals[4],
		TimeoutSeconds:    vals[5],
	}, nil
}

// ----------------------------------------------------------------------
// ClientMessage

// ClientMessage is the credentials/parameters message from the client,
// versioned for forward compatibility. Exactly one variant is set.
type ClientMessage struct {
	V1 *ClientMessageV1
	V2 *ClientMessageV2
}

// ClientMessageV1 carries an X.509 certificate only.
type ClientMessageV1 struct {
	Cert           []byte
	ConnectionType ConnectionType
	PortRange      PortRange
	Params         TransferParams
	// Extension is reserved and must be zero.
	Extension uint8
}

// ClientMessageV2 (feature CMSG_SMSG_2) carries typed credentials and a
// tagged extension list. An empty extension list encodes identically to
// the V1 reserved byte.
type ClientMessageV2 struct {
	Credentials    wire.TaggedData // tag: CredentialsType
	ConnectionType ConnectionType
	PortRange      PortRange
	Params         TransferParams
	Extension      []wire.TaggedData
}

// WireLimit implements wire.Message.
func (m *ClientMessage) WireLimit() uint32 { return messageWireLimit }

// MarshalWire implements wire.Message.
func (m *ClientMessage) MarshalWire(buf *bytes.Buffer) error {
	switch {
	case m.V1 != nil:
		if err := wire.WriteUint(buf, 0); err != nil {
			return err
		}
		v := m.V1
		if err := wire.WriteBytes(buf, v.Cert); err != nil {
			return err
		}
		if err := wire.WriteU8(buf, uint8(v.ConnectionType)); err != nil {
			return err
		}
		if err := v.PortRange.encode(buf); err != nil {
			return err
		}
		if err := v.Params.encode(buf); err != nil {
			return err
		}
		return wire.WriteU8(buf, v.Extension)
	case m.V2 != nil:
		if err := wire.WriteUint(buf, 1); err != nil {
			return err
		}
		v := m.V2
		if err := v.Credentials.Encode(buf); err != nil {
			return err
		}
		if err := wire.WriteU8(buf, uint8(v.ConnectionType)); err != nil {
			return err
		}
		if err := v.PortRange.encode(buf); err != nil {
			return err
		}
		if err := v.Params.encode(buf); err != nil {
			return err
		}
		return wire.EncodeTaggedList(buf, v.Extension)
	}
	return fmt.Errorf("client message: no variant set")
}

// UnmarshalWire implements wire.Message.
func (m *ClientMessage) UnmarshalWire(r *bytes.Reader) error {
	disc, err := wire.ReadUint(r)
	if err != nil {
		return fmt.Errorf("client message: %w", err)
	}
	switch disc {
	case 0:
		v := &ClientMessageV1{}
		if v.Cert, err = wire.ReadBytes(r, messageWireLimit); err != nil {
			return err
		}
		if v.ConnectionType, err = decodeConnectionType(r); err != nil {
			return err
		}
		if v.PortRange, err = decodePortRange(r); err != nil {
			return err
		}
		if v.Params, err = decodeTransferParams(r); err != nil {
			return err
		}
		if v.Extension, err = wire.ReadU8(r); err != nil {
			return err
		}
		*m = ClientMessage{V1: v}
	case 1:
		v := &ClientMessageV2{}
		if v.Credentials, err = wire.DecodeTaggedData(r); err != nil {
			return err
		}
		if v.ConnectionType, err = decodeConnectionType(r); err != nil {
			return err
		}
		if v.PortRange, err = decodePortRange(r); err != nil {
			return err
		}
		if v.Params, err = decodeTransferParams(r); err != nil {
			return err
		}
		if v.Extension, err = wire.DecodeTaggedList(r); err != nil {
			return err
		}
		*m = ClientMessage{V2: v}
	default:
		return fmt.Errorf("client message discriminant %d: %w", disc, wire.ErrUnknownDiscriminant)
	}
	return nil
}

// Credentials returns the credential type and bytes from either variant.
func (m *ClientMessage) Credentials() (CredentialsType, []byte, error) {
	switch {
	case m.V1 != nil:
		return CredentialsX509, m.V1.Cert, nil
	case m.V2 != nil:
		if m.V2.Credentials.Data.Kind != wire.VariantBytes {
			return 0, nil, fmt.Errorf("client message: credentials payload is %s, want bytes", m.V2.Credentials.Data)
		}
		return CredentialsType(m.V2.Credentials.Tag), m.V2.Credentials.Data.Bytes, nil
	}
	return 0, nil, fmt.Errorf("client message: no variant set")
}

// ----------------------------------------------------------------------
// ServerMessage

// ServerMessage is the server's reply carrying its credentials, the
// chosen UDP port and the final negotiated parameters.
type ServerMessage struct {
	V1 *ServerMessageV1
	V2 *ServerMessageV2
}

// ServerMessageV1 carries an X.509 certificate only.
type ServerMessageV1 struct {
	Cert []byte
	Port uint16
	// Name is the server's idea of its own hostname, for diagnostics.
	Name string
	// Warning carries an advisory message; empty means none.
	Warning string
	// Extension is reserved and must be zero.
	Extension uint8
}

// ServerMessageV2 (feature CMSG_SMSG_2) carries typed credentials, the
// final negotiated parameters and a tagged extension list.
type ServerMessageV2 struct {
	Credentials wire.TaggedData // tag: CredentialsType
	Port        uint16
	Name        string
	Params      TransferParams
	Warning     string
	Extension   []wire.TaggedData
}

// WireLimit implements wire.Message.
func (m *ServerMessage) WireLimit() uint32 { return messageWireLimit }

// MarshalWire implements wire.Message.
func (m *ServerMessage) MarshalWire(buf *bytes.Buffer) error {
	switch {
	case m.V1 != nil:
		if err := wire.WriteUint(buf, 0); err != nil {
			return err
		}
		v := m.V1
		if err := wire.WriteBytes(buf, v.Cert); err != nil {
			return err
		}
		if err := wire.WriteU16(buf, v.Port); err != nil {
			return err
		}
		if err := wire.WriteString(buf, v.Name); err != nil {
			return err
		}
		if err := wire.WriteString(buf, v.Warning); err != nil {
			return err
		}
		return wire.WriteU8(buf, v.Extension)
	case m.V2 != nil:
		if err := wire.WriteUint(buf, 1); err != nil {
			return err
		}
		v := m.V2
		if err := v.Credentials.Encode(buf); err != nil {
			return err
		}
		if err := wire.WriteU16(buf, v.Port); err != nil {
			return err
		}
		if err := wire.WriteString(buf, v.Name); err != nil {
			return err
		}
		if err := v.Params.encode(buf); err != nil {
			return err
		}
		if err := wire.WriteString(buf, v.Warning); err != nil {
			return err
		}
		return wire.EncodeTaggedList(buf, v.Extension)
	}
	return fmt.Errorf("server message: no variant set")
}

// UnmarshalWire implements wire.Message.
func (m *ServerMessage) UnmarshalWire(r *bytes.Reader) error {
	disc, err := wire.ReadUint(r)
	if err != nil {
		return fmt.Errorf("server message: %w", err)
	}
	switch disc {
	case 0:
		v := &ServerMessageV1{}
		if v.Cert, err = wire.ReadBytes(r, messageWireLimit); err != nil {
			return err
		}
		if v.Port, err = wire.ReadU16(r); err != nil {
			return err
		}
		if v.Name, err = wire.ReadString(r, messageWireLimit); err != nil {
			return err
		}
		if v.Warning, err = wire.ReadString(r, messageWireLimit); err != nil {
			return err
		}
		if v.Extension, err = wire.ReadU8(r); err != nil {
			return err
		}
		*m = ServerMessage{V1: v}
	case 1:
		v := &ServerMessageV2{}
		if v.Credentials, err = wire.DecodeTaggedData(r); err != nil {
			return err
		}
		if v.Port, err = wire.ReadU16(r); err != nil {
			return err
		}
		if v.Name, err = wire.ReadString(r, messageWireLimit); err != nil {
			return err
		}
		if v.Params, err = decodeTransferParams(r); err != nil {
			return err
		}
		if v.Warning, err = wire.ReadString(r, messageWireLimit); err != nil {
			return err
		}
		if v.Extension, err = wire.DecodeTaggedList(r); err != nil {
			return err
		}
		*m = ServerMessage{V2: v}
	default:
		return fmt.Errorf("server message discriminant %d: %w", disc, wire.ErrUnknownDiscriminant)
	}
	return nil
}

// Credentials returns the credential type and bytes from either variant.
func (m *ServerMessage) Credentials() (CredentialsType, []byte, error) {
	switch {
	case m.V1 != nil:
		return CredentialsX509, m.V1.Cert, nil
	case m.V2 != nil:
		if m.V2.Credentials.Data.Kind != wire.VariantBytes {
			return 0, nil, fmt.Errorf("server message: credentials payload is %s, want bytes", m.V2.Credentials.Data)
		}
		return CredentialsType(m.V2.Credentials.Tag), m.V2.Credentials.Data.Bytes, nil
	}
	return 0, nil, fmt.Errorf("server message: no variant set")
}

// PortValue returns the advertised UDP port from either variant.
func (m *ServerMessage) PortValue() uint16 {
	switch {
	case m.V1 != nil:
		return m.V1.Port
	case m.V2 != nil:
		return m.V2.Port
	}
	return 0
}

// WarningValue returns the advisory warning from either variant.
func (m *ServerMessage) WarningValue() string {
	switch {
	case m.V1 != nil:
		return m.V1.Warning
	case m.V2 != nil:
		return m.V2.Warning
	}
	return ""
}

// ----------------------------------------------------------------------
// ClosedownReport

// ClosedownReportExtension tags for the report's extension list.
const (
	ClosedownExtInvalid uint64 = 0
	// ClosedownExtPmtu is the path MTU measured by the server, in bytes.
	ClosedownExtPmtu uint64 = 1
	// ClosedownExtRtt is the RTT measured by the server, in microseconds.
	ClosedownExtRtt uint64 = 2
)

// ClosedownReport is the final statistics message from server to
// client, sent on the control channel after the QUIC session closes.
// Discriminant 0 is reserved and never appears on the wire.
type ClosedownReport struct {
	V1 *ClosedownReportV1
}

// ClosedownReportV1 is the statistics payload.
type ClosedownReportV1 struct {
	Cwnd             uint64
	SentPackets      uint64
	LostPackets      uint64
	LostBytes        uint64
	CongestionEvents uint64
	BlackHoles       uint64
	SentBytes        uint64
	// Extension carries optional attributes (PMTU, RTT). Anything the
	// client must act on goes in a later report version instead.
	// Before the extension mechanism this slot was a reserved zero
	// byte; an empty list encodes identically.
	Extension []wire.TaggedData
}

// WireLimit implements wire.Message.
func (m *ClosedownReport) WireLimit() uint32 { return closedownWireLimit }

// MarshalWire implements wire.Message.
func (m *ClosedownReport) MarshalWire(buf *bytes.Buffer) error {
	if m.V1 == nil {
		return fmt.Errorf("closedown report: no variant set")
	}
	if err := wire.WriteUint(buf, 1); err != nil {
		return err
	}
	v := m.V1
	for _, val := range []uint64{
		v.Cwnd, v.SentPackets, v.LostPackets, v.LostBytes,
		v.CongestionEvents, v.BlackHoles, v.SentBytes,
	} {
		if err := wire.WriteUint(buf, val); err != nil {
			return err
		}
	}
	return wire.EncodeTaggedList(buf, v.Extension)
}

// UnmarshalWire implements wire.Message.
func (m *ClosedownReport) UnmarshalWire(r *bytes.Reader) error {
	disc, err := wire.ReadUint(r)
	if err != nil {
		return fmt.Errorf("closedown report: %w", err)
	}
	if disc != 1 {
		return fmt.Errorf("closedown report discriminant %d: %w", disc, wire.ErrUnknownDiscriminant)
	}
	v := &ClosedownReportV1{}
	var vals [7]uint64
	for i := range vals {
		if vals[i], err = wire.ReadUint(r); err != nil {
			return fmt.Errorf("closedown report: %w", err)
		}
	}
	v.Cwnd, v.SentPackets, v.LostPackets, v.LostBytes = vals[0], vals[1], vals[2], vals[3]
	v.CongestionEvents, v.BlackHoles, v.SentBytes = vals[4], vals[5], vals[6]
	if v.Extension, err = wire.DecodeTaggedList(r); err != nil {
		return err
	}
	*m = ClosedownReport{V1: v}
	return nil
}
