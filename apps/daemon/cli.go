package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/preston-56/lms-backend/core"
	"github.com/preston-56/lms-backend/core/monitor"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf   *core.Config
	logger core.Logger
	runner *monitor.Runner
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  scan [-threshold DAYS]                 - run one scan cycle")
	fmt.Println("  diagnose                               - run activity diagnostics only")
	fmt.Println("  watch -every DURATION [-threshold DAYS] - run scan cycles on a fixed interval")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	scanCmd := flag.NewFlagSet("scan", flag.ExitOnError)
	scanThreshold := scanCmd.Int("threshold", 0, "Inactivity threshold in days (0 = configured default).")

	watchCmd := flag.NewFlagSet("watch", flag.ExitOnError)
	watchEvery := watchCmd.Duration("every", 0, "Interval between scan cycles, e.g. 24h.")
	watchThreshold := watchCmd.Int("threshold", 0, "Inactivity threshold in days (0 = configured default).")

	switch args[1] {
	case "scan":
		if err := scanCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.scan(ctx, cli.threshold(*scanThreshold))
	case "diagnose":
		return cli.diagnose(ctx)
	case "watch":
		if err := watchCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *watchEvery <= 0 {
			watchCmd.Usage()
			return errHelp
		}
		return cli.watch(ctx, *watchEvery, cli.threshold(*watchThreshold))
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) threshold(days int) time.Duration {
	if days > 0 {
		return time.Duration(days) * 24 * time.Hour
	}
	return cli.conf.Monitor.InactivityThreshold
}

func (cli *commandLine) scan(ctx context.Context, threshold time.Duration) error {
	res, err := cli.runner.Run(ctx, threshold)
	if err != nil {
		return err
	}
	cli.logger.Info(fmt.Sprintf("successfully notified %d inactive user(s)", res.Report.Sent))

	// no candidates usually means something upstream is off; look closer
	if res.Report.Total == 0 {
		cli.logger.Info("no inactive users found; running activity diagnostics")
		return cli.diagnose(ctx)
	}
	return nil
}

func (cli *commandLine) diagnose(ctx context.Context) error {
	diag, err := cli.runner.Diagnose(ctx, cli.conf.Monitor.InactivityThreshold)
	if err != nil {
		return err
	}
	cli.logger.Info(fmt.Sprintf(
		"activity diagnosis: total=%d active=%d missing_last_active=%d potential_inactive=%d",
		diag.UserCounts.Total, diag.UserCounts.Active,
		diag.UserCounts.MissingLastActive, diag.UserCounts.PotentialInactive))
	for _, issue := range diag.Issues {
		cli.logger.Warn("possible issue: " + issue)
	}
	return nil
}

func (cli *commandLine) watch(ctx context.Context, every time.Duration, threshold time.Duration) error {
	cli.logger.Info(fmt.Sprintf("watching: scan every %v, threshold %v", every, threshold))

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := cli.scan(ctx, threshold); err != nil {
			// cycles are independent; a failed one does not stop the loop
			cli.logger.Error(fmt.Sprintf("cycle failed: %v", err), err)
		}
		select {
		case <-ctx.Done():
			cli.logger.Info("shutdown requested; stopping watch")
			return nil
		case <-ticker.C:
		}
	}
}
