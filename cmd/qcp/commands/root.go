// Package commands implements the qcp command-line interface.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crazyscot/qcp-sub001/internal/logger"
	"github.com/crazyscot/qcp-sub001/internal/sshsub"
	"github.com/crazyscot/qcp-sub001/pkg/client"
	"github.com/crazyscot/qcp-sub001/pkg/server"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	// Global flags.
	flagConfigFile string
	flagServer     bool
	flagPreserve   bool
	flagQuiet      bool
	flagStats      bool
	flagDebug      bool
	flagColor      string
	flagLogFile    string
	flagSSH        string
	flagSSHOpts    []string
	flagMetrics    string
)

var rootCmd = &cobra.Command{
	Use:   "qcp [flags] source destination",
	Short: "qcp - high-throughput file copy over QUIC",
	Long: `qcp copies single files between hosts, bootstrapping a mutually
authenticated QUIC data channel over an ordinary ssh session. It is
built for long fat networks where classical shell-tunnelled copies
cannot fill the pipe.

One of source and destination must be remote, written [user@]host:path.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called by main.main().
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		rootCmd.PrintErrf("qcp: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.RunE = runRoot

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfigFile, "config", "", "config file (default: $HOME/.config/qcp/qcp.yaml)")
	pf.StringVar(&flagColor, "color", "auto", "colour output: on, off or auto")
	pf.StringVar(&flagLogFile, "log-file", "", "also write logs to this file")
	pf.BoolVar(&flagDebug, "debug", false, "enable debug output (and request it from the remote)")

	f := rootCmd.Flags()
	f.BoolVar(&flagServer, "server", false, "run as the remote server over stdin/stdout (internal)")
	_ = f.MarkHidden("server")
	f.BoolVarP(&flagPreserve, "preserve", "p", false, "preserve file mode and times")
	f.BoolVarP(&flagQuiet, "quiet", "q", false, "only report errors")
	f.BoolVarP(&flagStats, "stats", "s", false, "print transfer statistics")
	f.StringVar(&flagSSH, "ssh", "ssh", "ssh client to use for the control channel")
	f.StringArrayVarP(&flagSSHOpts, "ssh-opt", "S", nil, "extra option to pass to ssh (repeatable)")
	f.StringVar(&flagMetrics, "metrics-address", "", "serve Prometheus metrics on this address (e.g. 127.0.0.1:9120)")

	addConfigFlags(f)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(featuresCmd)
	rootCmd.AddCommand(showConfigCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func initLogging(toStderrOnly bool) error {
	level := "INFO"
	if flagDebug {
		level = "DEBUG"
	} else if flagQuiet {
		level = "ERROR"
	}
	output := "stderr"
	if flagLogFile != "" && !toStderrOnly {
		output = flagLogFile
	}
	return logger.Init(logger.Config{Level: level, Output: output, Color: flagColor})
}

func runRoot(cmd *cobra.Command, args []string) error {
	if flagServer {
		return runServer(cmd)
	}
	if len(args) != 2 {
		return fmt.Errorf("expected exactly a source and a destination (got %d arguments)", len(args))
	}
	if err := initLogging(false); err != nil {
		return err
	}

	source, err := client.ParseFileSpec(args[0])
	if err != nil {
		return err
	}
	dest, err := client.ParseFileSpec(args[1])
	if err != nil {
		return err
	}
	job, err := client.NewCopyJob(source, dest, flagPreserve)
	if err != nil {
		return err
	}

	cfg, err := loadConfiguration(job.Remote().Host)
	if err != nil {
		return err
	}
	maybeServeMetrics(flagMetrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	remote := job.Remote()
	sub, err := sshsub.Spawn(sshsub.Options{
		Command:   flagSSH,
		User:      remote.User,
		Host:      remote.Host,
		ExtraArgs: flagSSHOpts,
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	summary, err := client.New(cfg, flagDebug).Run(ctx, sub, job)
	if err != nil {
		return err
	}
	if !flagQuiet {
		printSummary(cmd, summary, flagStats)
	}
	return nil
}

// runServer is the remote end: the control channel is our own
// stdin/stdout, so logging must never touch stdout.
func runServer(cmd *cobra.Command) error {
	if err := initLogging(true); err != nil {
		return err
	}
	cfg, err := loadConfiguration("")
	if err != nil {
		return err
	}
	maybeServeMetrics(flagMetrics)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx, stdioStream{}, cfg)
}

// stdioStream adapts the process's stdin/stdout into the duplex stream
// the control channel wants.
type stdioStream struct{}

func (stdioStream) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioStream) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioStream) Close() error {
	err := os.Stdout.Close()
	if cerr := os.Stdin.Close(); err == nil {
		err = cerr
	}
	return err
}
