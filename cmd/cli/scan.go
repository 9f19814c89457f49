package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweepnet/sweepnet/internal/config"
	"github.com/sweepnet/sweepnet/internal/errors"
	"github.com/sweepnet/sweepnet/internal/orchestrator"
	"github.com/sweepnet/sweepnet/internal/output"
	"github.com/sweepnet/sweepnet/internal/presets"
	"github.com/sweepnet/sweepnet/internal/scanning"
	"github.com/sweepnet/sweepnet/internal/targets"
)

var (
	scanTargets     string
	scanPorts       string
	scanType        string
	scanPreset      string
	scanFormat      string
	scanOpenOnly    bool
	scanBannerPorts string
	scanRate        uint32
	scanConcurrency uint32
)

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan targets for open ports and services",
	Long: `Scan targets for open TCP ports, grab banners, and fingerprint
services. Targets may be IPs, CIDR blocks, last-octet ranges, or
hostnames.`,
	Example: `  sweepnet scan --targets 192.168.1.0/24
  sweepnet scan --targets "192.168.1.10-20,gateway.local" --ports "22,80,443"
  sweepnet scan --targets 10.0.0.1 --ports 1-1024 --preset accurate --format json
  sweepnet scan --targets 10.0.0.0/26 --type syn --preset stealth`,
	Run: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanTargets, "targets", "", "Comma-separated targets: IPs, CIDRs, ranges, hostnames")
	scanCmd.Flags().StringVar(&scanPorts, "ports", "", "Ports to scan, e.g. '80,443' or '1-1024' (default from config)")
	scanCmd.Flags().StringVar(&scanType, "type", "", "Scan type: connect (default) or syn (requires root)")
	scanCmd.Flags().StringVar(&scanPreset, "preset", "", "Tuning preset: "+strings.Join(presets.Names(), ", "))
	scanCmd.Flags().StringVar(&scanFormat, "format", "table", "Output format: table, json, csv")
	scanCmd.Flags().BoolVar(&scanOpenOnly, "open", false, "Show open ports only")
	scanCmd.Flags().StringVar(&scanBannerPorts, "banner-ports", "", "Ports to banner-grab, e.g. '22,80,443'")
	scanCmd.Flags().Uint32Var(&scanRate, "rate", 0, "Probe starts per second (0 = unlimited)")
	scanCmd.Flags().Uint32Var(&scanConcurrency, "concurrency", 0, "Worker count (default from preset)")

	_ = scanCmd.MarkFlagRequired("targets")
}

func runScan(cmd *cobra.Command, _ []string) {
	cfg := loadConfig()

	format, err := output.ParseFormat(scanFormat)
	if err != nil {
		fatal(err)
	}

	job, err := buildJob(cmd.Context(), cfg,
		cmd.Flags().Changed("concurrency"), cmd.Flags().Changed("rate"))
	if err != nil {
		fatal(err)
	}

	orch, err := orchestrator.New(job)
	if err != nil {
		if errors.IsCode(err, errors.CodePermission) {
			fmt.Fprintln(os.Stderr, "Error: SYN scans need raw socket privileges; run as root or use --type connect")
			os.Exit(1)
		}
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if verbose {
		go reportProgress(orch.Subscribe())
	}

	result, err := orch.Run(ctx)
	if err != nil {
		fatal(err)
	}
	if result.Incomplete {
		fmt.Fprintln(os.Stderr, "Scan interrupted, showing partial results")
	}

	renderer := output.NewRenderer(format)
	renderer.OpenOnly = scanOpenOnly
	if err := renderer.Render(os.Stdout, result); err != nil {
		fatal(err)
	}
}

// buildJob assembles the scan job from flags, config defaults, and the
// selected preset. The preset provides the tuning baseline; non-zero
// config values override it, and flags given on the command line win
// over both. An explicit --rate 0 disables rate limiting.
func buildJob(ctx context.Context, cfg *config.Config, concurrencySet, rateSet bool) (*scanning.ScanJob, error) {
	presetName := scanPreset
	if presetName == "" {
		presetName = cfg.Scanning.DefaultPreset
	}
	preset, err := presets.Lookup(presetName)
	if err != nil {
		return nil, err
	}

	portSpec := scanPorts
	if portSpec == "" {
		portSpec = cfg.Scanning.DefaultPorts
	}
	ports, err := targets.ParsePorts(portSpec)
	if err != nil {
		return nil, err
	}

	resolver := targets.NewResolver()
	resolved, err := resolver.Resolve(ctx, strings.Split(scanTargets, ","))
	if err != nil {
		return nil, err
	}

	typeName := scanType
	if typeName == "" {
		typeName = cfg.Scanning.DefaultScanType
	}

	job := scanning.NewJob(resolved, ports, scanning.ScanType(typeName))
	preset.Apply(job)

	switch {
	case concurrencySet && scanConcurrency > 0:
		job.Concurrency = scanConcurrency
	case cfg.Scanning.Concurrency > 0:
		job.Concurrency = cfg.Scanning.Concurrency
	}
	switch {
	case rateSet:
		// Zero here means unlimited, even over a throttled preset.
		job.RateLimit = scanRate
	case cfg.Scanning.RateLimit > 0:
		job.RateLimit = cfg.Scanning.RateLimit
	}

	if scanBannerPorts != "" {
		bannerPorts, err := targets.ParsePorts(scanBannerPorts)
		if err != nil {
			return nil, err
		}
		for _, port := range bannerPorts {
			job.BannerPorts[port] = struct{}{}
		}
	}

	return job, nil
}

// reportProgress prints completion updates to stderr.
func reportProgress(updates <-chan scanning.Progress) {
	for p := range updates {
		fmt.Fprintf(os.Stderr, "\rprobed %d/%d", p.Completed, p.Total)
	}
	fmt.Fprintln(os.Stderr)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
