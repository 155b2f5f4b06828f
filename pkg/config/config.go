// Package config holds the transfer configuration: the negotiation
// inputs each side brings to the control-channel handshake, and the
// final parameters both sides agree on.
//
// Configuration sources (flags, environment, files) are bound in the
// cmd layer through viper; this package only defines the structure,
// validation and the negotiation algebra. After negotiation the
// Configuration is immutable and shared by reference.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/crazyscot/qcp-sub001/internal/bytesize"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
)

// Defaults, chosen for a 100 Mbit path at 300 ms RTT.
const (
	DefaultBandwidth      = bytesize.ByteSize(12_500_000)
	DefaultRttMs          = 300
	DefaultTimeoutSeconds = 5
	DefaultUDPSendBuffer  = bytesize.ByteSize(4_194_304)
	DefaultUDPRecvBuffer  = bytesize.ByteSize(10_485_760)
)

// Configuration carries everything negotiable about a transfer.
type Configuration struct {
	// RxBandwidth is the expected bandwidth towards this host, bytes/s.
	RxBandwidth bytesize.ByteSize `mapstructure:"rx" validate:"required,gt=0"`
	// TxBandwidth is the expected bandwidth away from this host, bytes/s.
	// Zero means "same as RxBandwidth".
	TxBandwidth bytesize.ByteSize `mapstructure:"tx"`
	// RttMs is the expected round-trip time in milliseconds.
	RttMs uint64 `mapstructure:"rtt" validate:"required,gt=0,lte=3600000"`

	// Congestion selects the congestion controller: cubic, newreno, bbr.
	Congestion string `mapstructure:"congestion" validate:"omitempty,oneof=cubic newreno bbr"`
	// InitialCwnd is the requested initial congestion window in bytes,
	// zero for the transport default. It is negotiated and carried on the
	// wire; the QUIC transport does not apply it.
	InitialCwnd uint64 `mapstructure:"initial_congestion_window"`

	// Port restricts the local UDP port.
	Port protocol.PortRange `mapstructure:"port"`
	// RemotePort is the preference for the remote's UDP port.
	RemotePort protocol.PortRange `mapstructure:"remote_port"`

	// UDPSendBuffer and UDPRecvBuffer are requested socket buffer sizes.
	UDPSendBuffer bytesize.ByteSize `mapstructure:"udp_send_buffer"`
	UDPRecvBuffer bytesize.ByteSize `mapstructure:"udp_recv_buffer"`

	// AddressFamily is "any", "4" or "6".
	AddressFamily string `mapstructure:"address_family" validate:"omitempty,oneof=any 4 6"`

	// TimeoutSeconds bounds the handshake phases and connection setup.
	TimeoutSeconds uint64 `mapstructure:"timeout" validate:"required,gt=0"`

	// CredentialsType forces x509 or rawpublickey; empty negotiates.
	CredentialsType string `mapstructure:"credentials_type" validate:"omitempty,oneof=any x509 rawpublickey"`
}

// SystemDefault returns the baseline configuration.
func SystemDefault() *Configuration {
	return &Configuration{
		RxBandwidth:    DefaultBandwidth,
		RttMs:          DefaultRttMs,
		Congestion:     "cubic",
		UDPSendBuffer:  DefaultUDPSendBuffer,
		UDPRecvBuffer:  DefaultUDPRecvBuffer,
		AddressFamily:  "any",
		TimeoutSeconds: DefaultTimeoutSeconds,
	}
}

var validate = validator.New()

// Validate checks the configuration before any network I/O happens.
func (c *Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("configuration field %s: failed %q validation", e.Field(), e.Tag())
		}
		return fmt.Errorf("configuration: %w", err)
	}
	_, err := protocol.ParseCongestionAlgorithm(c.Congestion)
	return err
}

// EffectiveTx returns the transmit bandwidth, defaulting to Rx.
func (c *Configuration) EffectiveTx() uint64 {
	if c.TxBandwidth == 0 {
		return uint64(c.RxBandwidth)
	}
	return uint64(c.TxBandwidth)
}

// Rtt returns the configured round trip as a duration.
func (c *Configuration) Rtt() time.Duration {
	return time.Duration(c.RttMs) * time.Millisecond
}

// Timeout returns the handshake timeout as a duration.
func (c *Configuration) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BandwidthDelayProduct is the link capacity estimate that sizes the
// flow-control windows: receive bandwidth times round-trip time.
func (c *Configuration) BandwidthDelayProduct() uint64 {
	return uint64(c.RxBandwidth) * c.RttMs / 1000
}

// CongestionAlgorithm parses the configured controller name.
func (c *Configuration) CongestionAlgorithm() protocol.CongestionAlgorithm {
	a, err := protocol.ParseCongestionAlgorithm(c.Congestion)
	if err != nil {
		return protocol.CongestionCubic
	}
	return a
}

// CredentialsTypeTag parses the configured credentials type.
func (c *Configuration) CredentialsTypeTag() protocol.CredentialsType {
	switch c.CredentialsType {
	case "x509":
		return protocol.CredentialsX509
	case "rawpublickey":
		return protocol.CredentialsRawPublicKey
	}
	return protocol.CredentialsAny
}

// ConnectionType maps the address family to the wire value. "any"
// resolves per-connection from the remote address; IPv4 is the neutral
// fallback.
func (c *Configuration) ConnectionType() protocol.ConnectionType {
	if c.AddressFamily == "6" {
		return protocol.ConnectionIPv6
	}
	return protocol.ConnectionIPv4
}

// ToTransferParams projects the configuration into its wire form, from
// the client's point of view.
func (c *Configuration) ToTransferParams() protocol.TransferParams {
	return protocol.TransferParams{
		BandwidthToServer: c.EffectiveTx(),
		BandwidthToClient: uint64(c.RxBandwidth),
		RttMs:             c.RttMs,
		Congestion:        c.CongestionAlgorithm(),
		InitialCwnd:       c.InitialCwnd,
		TimeoutSeconds:    c.TimeoutSeconds,
	}
}

// Negotiate merges the client's requested parameters into the server's
// configuration, producing the final parameters the server echoes back.
// The congestion choice must clear its feature gate.
func Negotiate(server *Configuration, client protocol.TransferParams, compat protocol.Compatibility) (protocol.TransferParams, error) {
	final := client
	if final.BandwidthToServer == 0 {
		final.BandwidthToServer = uint64(server.RxBandwidth)
	}
	if final.BandwidthToClient == 0 {
		final.BandwidthToClient = server.EffectiveTx()
	}
	if final.RttMs == 0 {
		final.RttMs = server.RttMs
	}
	if final.TimeoutSeconds == 0 {
		final.TimeoutSeconds = server.TimeoutSeconds
	}
	switch final.Congestion {
	case protocol.CongestionCubic, protocol.CongestionNewReno, protocol.CongestionBbr:
	default:
		return protocol.TransferParams{}, fmt.Errorf("unknown congestion algorithm %d requested", final.Congestion)
	}
	if f, gated := final.Congestion.RequiredFeature(); gated && !compat.Supports(f) {
		return protocol.TransferParams{}, fmt.Errorf("congestion algorithm %s requires feature %s, not supported by this connection", final.Congestion, f.Symbol)
	}
	return final, nil
}

// Apply overwrites the negotiable fields with the final parameters the
// server sent, from the client's point of view.
func (c *Configuration) Apply(final protocol.TransferParams) {
	c.TxBandwidth = bytesize.ByteSize(final.BandwidthToServer)
	c.RxBandwidth = bytesize.ByteSize(final.BandwidthToClient)
	if final.RttMs != 0 {
		c.RttMs = final.RttMs
	}
	c.Congestion = final.Congestion.String()
	c.InitialCwnd = final.InitialCwnd
	if final.TimeoutSeconds != 0 {
		c.TimeoutSeconds = final.TimeoutSeconds
	}
}

// ServerView returns the configuration as the server should use it:
// bandwidth directions flipped relative to the client's wire view.
func ServerView(base *Configuration, final protocol.TransferParams) *Configuration {
	c := *base
	c.RxBandwidth = bytesize.ByteSize(final.BandwidthToServer)
	c.TxBandwidth = bytesize.ByteSize(final.BandwidthToClient)
	if final.RttMs != 0 {
		c.RttMs = final.RttMs
	}
	c.Congestion = final.Congestion.String()
	c.InitialCwnd = final.InitialCwnd
	if final.TimeoutSeconds != 0 {
		c.TimeoutSeconds = final.TimeoutSeconds
	}
	return &c
}

// ParsePortRange parses "port" or "begin-end". Port 0 is allowed alone
// (with the usual "any port" meaning) but cannot form part of a range.
func ParsePortRange(s string) (protocol.PortRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return protocol.PortRange{}, nil
	}
	if n, err := strconv.ParseUint(s, 10, 16); err == nil {
		p := uint16(n)
		return protocol.PortRange{Begin: p, End: p}, nil
	}
	a, b, found := strings.Cut(s, "-")
	if found {
		begin, err1 := strconv.ParseUint(a, 10, 16)
		end, err2 := strconv.ParseUint(b, 10, 16)
		if err1 == nil && err2 == nil {
			if begin > end {
				return protocol.PortRange{}, fmt.Errorf("invalid port range %q (must be increasing)", s)
			}
			if begin == 0 && end != 0 {
				return protocol.PortRange{}, fmt.Errorf("invalid port range %q (port 0 means \"any\" so cannot be part of a range)", s)
			}
			return protocol.PortRange{Begin: uint16(begin), End: uint16(end)}, nil
		}
	}
	return protocol.PortRange{}, fmt.Errorf("invalid port range %q: want a port number or a range a-b", s)
}
