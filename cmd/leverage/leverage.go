package leverage

import (
	"context"
	"fmt"
	"io"
	"time"

	"brokerdash/src/controller"
	"brokerdash/src/model"

	logger "github.com/sirupsen/logrus"
)

// LeverageUpdate is the leverage_update command: validate input, apply the
// leverage account by account, print a summary and persist the results.
type LeverageUpdate struct {
	Log      *logger.Entry
	Updater  controller.LeverageUpdater
	Accounts string
	Leverage string
	OutDir   string
	Out      io.Writer

	// Delay overrides LEVERAGE_DELAY when non-zero.
	Delay time.Duration
	now   func() time.Time
}

func (l *LeverageUpdate) Start(ctx context.Context) (model.LeverageSummary, error) {
	leverage, err := controller.ValidateLeverage(l.Leverage)
	if err != nil {
		return model.LeverageSummary{}, err
	}
	accounts := controller.ParseAccountList(l.Accounts)
	if len(accounts) == 0 {
		return model.LeverageSummary{}, controller.ErrNoAccounts
	}

	now := time.Now
	if l.now != nil {
		now = l.now
	}

	fmt.Fprintf(l.Out, "Updating %d accounts to leverage 1:%d\n", len(accounts), leverage)
	runner := controller.NewLeverageRunner(l.Updater)
	if l.Delay > 0 {
		runner.Delay = l.Delay
	}
	runner.Progress = func(index, total int, r model.LeverageResult) {
		if r.Success {
			fmt.Fprintf(l.Out, "[%d/%d] OK   %s -> 1:%d\n", index, total, r.Account, r.NewLeverage)
			return
		}
		fmt.Fprintf(l.Out, "[%d/%d] FAIL %s: %s\n", index, total, r.Account, r.Error)
	}

	results := runner.Run(ctx, accounts, leverage)
	summary := controller.Summarize(results)
	printSummary(l.Out, summary)

	path, err := controller.WriteResults(l.OutDir, results, now())
	if err != nil {
		return summary, err
	}
	fmt.Fprintf(l.Out, "Results saved to %s\n", path)
	l.Log.WithFields(logger.Fields{"total": summary.Total, "failed": summary.Failed, "file": path}).Info("leverage update finished")

	if summary.Failed > 0 {
		return summary, fmt.Errorf("%d of %d leverage updates failed", summary.Failed, summary.Total)
	}
	return summary, nil
}

func printSummary(out io.Writer, s model.LeverageSummary) {
	fmt.Fprintln(out, "Summary:")
	fmt.Fprintf(out, "  Total:        %d\n", s.Total)
	fmt.Fprintf(out, "  Successful:   %d\n", s.Successful)
	fmt.Fprintf(out, "  Failed:       %d\n", s.Failed)
	fmt.Fprintf(out, "  Success rate: %.1f%%\n", s.SuccessRate)
	if len(s.FailedList) > 0 {
		fmt.Fprintln(out, "Failed accounts:")
		for _, f := range s.FailedList {
			fmt.Fprintf(out, "  - %s\n", f)
		}
	}
}
