package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ssk18/BleFlux/internal/goble"
	"github.com/ssk18/BleFlux/pkg/adapter"
	"github.com/ssk18/BleFlux/pkg/blerr"
	"github.com/ssk18/BleFlux/pkg/config"
	"github.com/ssk18/BleFlux/pkg/device"
	"github.com/ssk18/BleFlux/pkg/hub"
	"github.com/ssk18/BleFlux/pkg/scan"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Discovered devices are deduplicated by address; repeated sightings update
the RSSI and last-seen timestamp in place. The scan ends when the timeout
elapses, on Ctrl+C, or on a classified failure.`,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanServices  []string
	scanAllowList []string
	scanBlockList []string
	scanWatch     bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously redraw results while scanning")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format %q: must be table or json", scanFormat)
	}

	cfg, cfgLevel, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfgLevel)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	timeout := cfg.ScanTimeout
	if cmd.Flags().Changed("duration") {
		timeout = scanDuration
	}

	radio := goble.New(logger)
	checker := goble.NewChecker(radio)
	errs := hub.New[*blerr.Error](logger)
	defer errs.Close()

	controller := scan.NewController(radio, checker, errs, logger)

	states := controller.SubscribeStates(hub.PolicyDropOldest, cfg.EventBuffer)
	defer states.Cancel()
	devices := controller.SubscribeDevices(hub.PolicyDropOldest, cfg.EventBuffer)
	defer devices.Cancel()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := &scan.Options{
		Timeout: timeout,
		Filters: adapter.ScanFilters{
			ServiceUUIDs: scanServices,
			AllowList:    scanAllowList,
			BlockList:    scanBlockList,
		},
		Settings: adapter.ScanSettings{AllowDuplicates: true},
	}
	if err := controller.Start(ctx, opts); err != nil {
		return err
	}

	interactive := scanWatch && term.IsTerminal(int(os.Stdout.Fd()))

	for {
		select {
		case <-ctx.Done():
			_ = controller.Stop()
			return outputDevices(os.Stdout, controller.Devices(), scanFormat)

		case snapshot := <-devices.C():
			if interactive {
				fmt.Print("\033[2J\033[H")
				_ = outputDevices(os.Stdout, snapshot, scanFormat)
			}

		case st := <-states.C():
			switch s := st.(type) {
			case scan.TimedOut, scan.Stopped:
				logger.WithField("state", st.String()).Info("Scan finished")
				return outputDevices(os.Stdout, controller.Devices(), scanFormat)
			case scan.Failed:
				return s.Err
			}
		}
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		return config.Default(), "", nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, cfg.LogLevel, nil
}

func outputDevices(w io.Writer, devs []device.DiscoveredDevice, format string) error {
	// Strongest signal first for presentation; the controller itself keeps
	// insertion order.
	sort.SliceStable(devs, func(i, j int) bool {
		return devs[i].RSSI > devs[j].RSSI
	})

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(devs)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tRSSI\tCONNECTABLE\tSERVICES\tLAST SEEN")
	for _, d := range devs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\t%s\n",
			d.Address,
			d.DisplayName(),
			d.RSSI,
			d.Connectable,
			strings.Join(d.Services, ","),
			d.LastSeen.Format(time.TimeOnly),
		)
	}
	return tw.Flush()
}
