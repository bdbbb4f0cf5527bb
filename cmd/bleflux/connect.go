package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssk18/BleFlux/internal/goble"
	"github.com/ssk18/BleFlux/pkg/blerr"
	"github.com/ssk18/BleFlux/pkg/conn"
	"github.com/ssk18/BleFlux/pkg/device"
	"github.com/ssk18/BleFlux/pkg/hub"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <address>",
	Short: "Connect to a BLE peripheral",
	Long: `Connect to a BLE peripheral by address, optionally read its signal
strength, and disconnect.

Failures are classified; the exit message carries the raw status code and
whether a retry is worth attempting.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var (
	connectTimeout   time.Duration
	connectReadRSSI  bool
	connectReconnect bool
	connectHold      time.Duration
)

func init() {
	connectCmd.Flags().DurationVarP(&connectTimeout, "timeout", "t", 30*time.Second, "Connection timeout")
	connectCmd.Flags().BoolVar(&connectReadRSSI, "read-rssi", false, "Read signal strength after connecting")
	connectCmd.Flags().BoolVar(&connectReconnect, "auto-reconnect", false, "Ask the adapter to reconnect on link loss")
	connectCmd.Flags().DurationVar(&connectHold, "hold", 0, "Keep the connection open for this long before disconnecting")
}

func runConnect(cmd *cobra.Command, args []string) error {
	address := args[0]

	cfg, cfgLevel, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfgLevel)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	timeout := cfg.ConnectTimeout
	if cmd.Flags().Changed("timeout") {
		timeout = connectTimeout
	}

	radio := goble.New(logger)
	errs := hub.New[*blerr.Error](logger)
	defer errs.Close()

	controller := conn.NewController(radio, errs, logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	peripheral := device.NewPeripheral(address)
	if err := controller.Connect(ctx, peripheral, connectReconnect, timeout); err != nil {
		return err
	}
	fmt.Printf("Connected to %s\n", address)

	if connectReadRSSI {
		rssi, err := controller.ReadSignalStrength(ctx, cfg.RSSITimeout)
		if err != nil {
			_ = controller.Disconnect(ctx)
			return err
		}
		fmt.Printf("RSSI: %d dBm\n", rssi)
	}

	if connectHold > 0 {
		select {
		case <-time.After(connectHold):
		case <-ctx.Done():
		}
	}

	if err := controller.Disconnect(ctx); err != nil {
		return err
	}
	fmt.Printf("Disconnected from %s\n", address)
	return nil
}
