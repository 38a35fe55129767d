package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/nmeahub/internal/config"
	"github.com/shaunagostinho/nmeahub/internal/transport"
)

func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "check",
		Short:         "Validate the config file and list its connections",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.OutOrStdout(), opts)
		},
	}
}

func runCheck(w io.Writer, opts *rootOptions) error {
	cfg := loadConfig(opts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfg.Path(), err)
	}

	fmt.Fprintf(w, "config %s: listen %s, queue %d, %d connection(s)\n",
		cfg.Path(), cfg.Server.ListenAddr, cfg.Queue.Size, len(cfg.Connections))
	for _, cc := range cfg.Connections {
		p := cc.Properties()
		fmt.Fprintf(w, "  %-12s %-6s %-24s read=%-5t write=%-5t", cc.Name, cc.Type, endpoint(cc), p.ReadData, p.WriteData)
		if len(p.ReadFilter) > 0 {
			fmt.Fprintf(w, " read_filter=%s", strings.Join(p.ReadFilter, ","))
		}
		if len(p.WriteFilter) > 0 {
			fmt.Fprintf(w, " write_filter=%s", strings.Join(p.WriteFilter, ","))
		}
		if len(p.Blacklist) > 0 {
			fmt.Fprintf(w, " blacklist=%s", strings.Join(p.Blacklist, ","))
		}
		fmt.Fprintln(w)
	}
	return nil
}

func endpoint(cc config.ConnectionConfig) string {
	if cc.Type == config.TypeSerial {
		sc := cc.SerialConfig()
		baud := sc.BaudRate
		if baud <= 0 {
			baud = transport.DefaultBaudRate
		}
		return fmt.Sprintf("%s@%d", sc.PortPath, baud)
	}
	return cc.Address
}

func newPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List the serial ports of this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := transport.ListSerialPorts()
			if err != nil {
				return err
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}
