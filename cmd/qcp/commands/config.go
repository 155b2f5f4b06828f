package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/crazyscot/qcp-sub001/internal/bytesize"
	"github.com/crazyscot/qcp-sub001/internal/hostmatch"
	"github.com/crazyscot/qcp-sub001/pkg/config"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
)

// Configuration sources, lowest to highest precedence: built-in
// defaults, the config file (with host-specific blocks), QCP_*
// environment variables, command-line flags.

func addConfigFlags(f *pflag.FlagSet) {
	f.String("rx", "", "expected bandwidth towards this host, bytes/s (e.g. 12.5M)")
	f.String("tx", "", "expected bandwidth away from this host (default: same as rx)")
	f.Uint64("rtt", 0, "expected round-trip time, milliseconds")
	f.String("congestion", "", "congestion controller: cubic, newreno or bbr")
	f.Uint64("initial-congestion-window", 0, "initial congestion window to negotiate, bytes (not applied by the QUIC transport)")
	f.String("port", "", "local UDP port or range (e.g. 60000-60010)")
	f.String("remote-port", "", "remote UDP port or range preference")
	f.String("address-family", "", "IP address family: any, 4 or 6")
	f.Uint64("timeout", 0, "handshake timeout, seconds")
	f.String("udp-send-buffer", "", "requested UDP send buffer size")
	f.String("udp-recv-buffer", "", "requested UDP receive buffer size")
	f.String("credentials-type", "", "force credentials type: x509 or rawpublickey")
}

// flagToKey maps flag names onto configuration keys.
var flagToKey = map[string]string{
	"rx":                        "rx",
	"tx":                        "tx",
	"rtt":                       "rtt",
	"congestion":                "congestion",
	"initial-congestion-window": "initial_congestion_window",
	"port":                      "port",
	"remote-port":               "remote_port",
	"address-family":            "address_family",
	"timeout":                   "timeout",
	"udp-send-buffer":           "udp_send_buffer",
	"udp-recv-buffer":           "udp_recv_buffer",
	"credentials-type":          "credentials_type",
}

// loadConfiguration merges all sources for a transfer involving the
// given remote host (empty on the server side, where host-specific
// blocks match only a bare "*").
func loadConfiguration(host string) (*config.Configuration, error) {
	v := viper.New()
	v.SetEnvPrefix("QCP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Defaults double as the key registry: AutomaticEnv only surfaces
	// keys viper already knows about.
	defaults := config.SystemDefault()
	v.SetDefault("rx", defaults.RxBandwidth.String())
	v.SetDefault("rtt", defaults.RttMs)
	v.SetDefault("congestion", defaults.Congestion)
	v.SetDefault("address_family", defaults.AddressFamily)
	v.SetDefault("timeout", defaults.TimeoutSeconds)
	v.SetDefault("udp_send_buffer", uint64(defaults.UDPSendBuffer))
	v.SetDefault("udp_recv_buffer", uint64(defaults.UDPRecvBuffer))
	v.SetDefault("tx", "")
	v.SetDefault("port", "")
	v.SetDefault("remote_port", "")
	v.SetDefault("initial_congestion_window", uint64(0))
	v.SetDefault("credentials_type", "")

	if flagConfigFile != "" {
		v.SetConfigFile(flagConfigFile)
	} else {
		v.SetConfigName("qcp")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "qcp"))
		}
		v.AddConfigPath("/etc/qcp")
	}
	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; anything else (parse
		// error, or an explicit --config that does not exist) is not.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := config.SystemDefault()
	if err := decodeInto(cfg, v.AllSettings()); err != nil {
		return nil, err
	}

	// Host-specific blocks: a list of {patterns: [...], <overrides>}
	// entries, first match per key wins in file order. A key also set
	// through a QCP_* environment variable keeps the environment's value.
	var hostBlocks []struct {
		Patterns []string       `mapstructure:"patterns"`
		Rest     map[string]any `mapstructure:",remain"`
	}
	if err := mapstructure.Decode(v.Get("hosts"), &hostBlocks); err == nil {
		seen := map[string]bool{}
		for _, block := range hostBlocks {
			if !hostmatch.Matches(block.Patterns, host) {
				continue
			}
			fresh := map[string]any{}
			for key, val := range block.Rest {
				if seen[key] {
					continue
				}
				seen[key] = true
				if os.Getenv("QCP_"+strings.ToUpper(key)) == "" {
					fresh[key] = val
				}
			}
			if err := decodeInto(cfg, fresh); err != nil {
				return nil, err
			}
		}
	}

	// Flags override everything.
	overrides := map[string]any{}
	rootCmd.Flags().Visit(func(f *pflag.Flag) {
		if key, ok := flagToKey[f.Name]; ok {
			overrides[key] = f.Value.String()
		}
	})
	if err := decodeInto(cfg, overrides); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeInto overlays a settings map onto a Configuration, with string
// conversions for the byte-size and port-range types.
func decodeInto(cfg *config.Configuration, settings map[string]any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			byteSizeHook, portRangeHook,
		),
		Result:           cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(settings); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	return nil
}

func byteSizeHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(bytesize.ByteSize(0)) || from.Kind() != reflect.String {
		return data, nil
	}
	s := data.(string)
	if s == "" {
		return bytesize.ByteSize(0), nil
	}
	return bytesize.Parse(s)
}

func portRangeHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(protocol.PortRange{}) || from.Kind() != reflect.String {
		return data, nil
	}
	return config.ParsePortRange(data.(string))
}

// showConfigCmd prints the merged configuration for a host.
var showConfigCmd = &cobra.Command{
	Use:   "show-config [host]",
	Short: "Print the configuration that would apply to a transfer",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host := ""
		if len(args) == 1 {
			host = args[0]
		}
		cfg, err := loadConfiguration(host)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "rx:                %s\n", cfg.RxBandwidth)
		fmt.Fprintf(out, "tx:                %s\n", cfg.TxBandwidth)
		fmt.Fprintf(out, "rtt:               %dms\n", cfg.RttMs)
		fmt.Fprintf(out, "congestion:        %s\n", cfg.Congestion)
		fmt.Fprintf(out, "port:              %s\n", cfg.Port)
		fmt.Fprintf(out, "remote_port:       %s\n", cfg.RemotePort)
		fmt.Fprintf(out, "address_family:    %s\n", cfg.AddressFamily)
		fmt.Fprintf(out, "timeout:           %ds\n", cfg.TimeoutSeconds)
		fmt.Fprintf(out, "udp_send_buffer:   %s\n", cfg.UDPSendBuffer)
		fmt.Fprintf(out, "udp_recv_buffer:   %s\n", cfg.UDPRecvBuffer)
		return nil
	},
}
