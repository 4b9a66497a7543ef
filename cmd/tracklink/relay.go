package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/tracklink/internal/monitoring"
	"github.com/banshee-data/tracklink/internal/relay"
)

func newRelayCmd(g *globalOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Forward commands from the command server to the actuator serial port",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.cfg
			overrideString(cmd, "addr", &cfg.RelayAddr)
			overrideString(cmd, "serial", &cfg.SerialPath)
			overrideInt(cmd, "baud", &cfg.BaudRate)
			if err := cfg.Validate(); err != nil {
				return err
			}

			opener := relay.SerialOpener(cfg.GetSerialPath(), relay.PortOptions{BaudRate: cfg.GetBaudRate()})
			target := cfg.GetSerialPath()
			if dryRun {
				opener = relay.WriterOpener(os.Stdout)
				target = "stdout"
			}

			r, err := relay.New(relay.Config{Addr: cfg.GetRelayAddr(), Open: opener})
			if err != nil {
				return err
			}
			monitoring.Logf("[Relay] Forwarding %s to %s", cfg.GetRelayAddr(), target)
			err = r.Run(cmd.Context())
			st := r.Stats()
			monitoring.Logf("[Relay] Stopped: %d forwarded, %d malformed, %d port errors", st.Forwarded, st.Malformed, st.PortErrors)
			return err
		},
	}

	f := cmd.Flags()
	f.String("addr", "localhost:6000", "command server address")
	f.String("serial", "/dev/ttyUSB0", "actuator serial device")
	f.Int("baud", 115200, "serial baud rate")
	f.BoolVar(&dryRun, "dry-run", false, "print commands to stdout instead of opening the serial port")
	return cmd
}
