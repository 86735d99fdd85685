package main

import (
	"fmt"

	"github.com/danmuck/enqlink/internal/config"
	"github.com/spf13/cobra"
)

// flagValues holds command-line overrides for config keys.
type flagValues struct {
	configPath     string
	logFile        string
	logLevel       string
	host           string
	port           int
	simul          bool
	inDir          string
	inMask         string
	inBackup       string
	outDir         string
	outName        string
	serialPort     string
	serialBaud     int
	statusAddr     string
	statusToken    string
	advertise      bool
	discover       bool
	verifyChecksum bool
}

func newRootCmd() *cobra.Command {
	var fv flagValues
	root := &cobra.Command{
		Use:          "enqlink",
		Short:        "Half-duplex ENQ/ACK file transfer between a host and an instrument",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&fv.configPath, "config", "", "TOML config file")
	pf.StringVar(&fv.logFile, "logfile", "", "log file path")
	pf.StringVar(&fv.logLevel, "loglevel", "", "log level (severe|warning|info|config|fine|finer|finest or zerolog names)")
	pf.StringVar(&fv.host, "host", "", "host address a simulator dials")
	pf.IntVar(&fv.port, "port", 0, "TCP port, 1..65535")
	pf.BoolVar(&fv.simul, "simul", false, "run as the simulated instrument")
	pf.StringVar(&fv.inDir, "indir", "", "directory searched for files to send")
	pf.StringVar(&fv.inMask, "inmask", "", "glob mask of files to send")
	pf.StringVar(&fv.inBackup, "inbackup", "", "directory sent files are moved to")
	pf.StringVar(&fv.outDir, "outdir", "", "directory received files are written to")
	pf.StringVar(&fv.outName, "outname", "", "received file name pattern with one integer verb")
	pf.StringVar(&fv.serialPort, "serial", "", "serial device instead of TCP")
	pf.IntVar(&fv.serialBaud, "baud", 0, "serial baud rate")
	pf.StringVar(&fv.statusAddr, "status-addr", "", "address of the HTTP status endpoint")
	pf.StringVar(&fv.statusToken, "status-token", "", "bearer token required by /sessions and /metrics")
	pf.BoolVar(&fv.advertise, "advertise", false, "announce the host listener over mDNS")
	pf.BoolVar(&fv.discover, "discover", false, "find the host over mDNS")
	pf.BoolVar(&fv.verifyChecksum, "verify-checksum", false, "NAK inbound frames with a bad checksum")

	root.AddCommand(
		newRunCmd(&fv, "run", "Run in the mode the config selects", nil),
		newRunCmd(&fv, "serve", "Run as the host", boolPtr(false)),
		newRunCmd(&fv, "simulate", "Run as the simulated instrument", boolPtr(true)),
		newConfigCmd(&fv),
	)
	return root
}

func newRunCmd(fv *flagValues, use, short string, simul *bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, fv)
			if err != nil {
				return err
			}
			if simul != nil {
				cfg.Simul = *simul
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

func newConfigCmd(fv *flagValues) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, check or show configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a config file holding the defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	checkCmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective options",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, fv)
			if err != nil {
				return err
			}
			for _, opt := range cfg.Options() {
				fmt.Fprintln(cmd.OutOrStdout(), opt)
			}
			return nil
		},
	}

	cmd.AddCommand(initCmd, checkCmd, showCmd)
	return cmd
}

// resolveConfig layers defaults, the config file and explicitly set flags,
// in that order.
func resolveConfig(cmd *cobra.Command, fv *flagValues) (config.Config, error) {
	cfg := config.Default()
	if fv.configPath != "" {
		loaded, err := config.Load(fv.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("logfile", func() { cfg.LogFile = fv.logFile })
	set("loglevel", func() { cfg.LogLevel = fv.logLevel })
	set("host", func() { cfg.Host = fv.host })
	set("port", func() { cfg.Port = fv.port })
	set("simul", func() { cfg.Simul = fv.simul })
	set("indir", func() { cfg.Queue.SendDir = fv.inDir })
	set("inmask", func() { cfg.Queue.Mask = fv.inMask })
	set("inbackup", func() { cfg.Queue.BackupDir = fv.inBackup })
	set("outdir", func() { cfg.Queue.ReceiveDir = fv.outDir })
	set("outname", func() { cfg.Queue.NamePattern = fv.outName })
	set("serial", func() { cfg.SerialPort = fv.serialPort })
	set("baud", func() { cfg.SerialBaud = fv.serialBaud })
	set("status-addr", func() { cfg.StatusAddr = fv.statusAddr })
	set("status-token", func() { cfg.StatusToken = fv.statusToken })
	set("advertise", func() { cfg.Advertise = fv.advertise })
	set("discover", func() { cfg.Discover = fv.discover })
	set("verify-checksum", func() { cfg.Session.VerifyChecksum = fv.verifyChecksum })
	return cfg, nil
}

func boolPtr(v bool) *bool {
	return &v
}
