package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"brokerdash/src/model"

	logger "github.com/sirupsen/logrus"
)

const (
	MinLeverage = 1
	MaxLeverage = 500
)

var (
	ErrInvalidLeverage = errors.New("invalid leverage: must be between 1 and 500")
	ErrNoAccounts      = errors.New("no valid accounts found in input")
)

var accountTokenSplit = regexp.MustCompile(`[\s,-]+`)

// ValidateLeverage accepts a base-10 integer in [MinLeverage, MaxLeverage].
func ValidateLeverage(raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < MinLeverage || v > MaxLeverage {
		return 0, ErrInvalidLeverage
	}
	return v, nil
}

// ParseAccountList reads "serverId login" or "serverId-login" entries. input
// is a file path (one entry per line) when it names a readable file, and a
// comma separated inline list otherwise. Blank lines, '#' comments and
// malformed entries are skipped.
func ParseAccountList(input string) []model.AccountRef {
	var lines []string
	if content, err := os.ReadFile(input); err == nil {
		lines = strings.Split(string(content), "\n")
	} else {
		lines = strings.Split(input, ",")
	}
	return ParseAccountLines(lines)
}

func ParseAccountLines(lines []string) []model.AccountRef {
	accounts := make([]model.AccountRef, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		parts := nonEmpty(accountTokenSplit.Split(trimmed, -1))
		if len(parts) < 2 {
			continue
		}
		serverID, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		accounts = append(accounts, model.AccountRef{ServerID: serverID, Login: parts[1]})
	}
	return accounts
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LeverageUpdater applies a leverage change to one CRM account.
type LeverageUpdater interface {
	UpdateAccountLeverage(ctx context.Context, account model.AccountRef, leverage int) (*model.AccountUpdateResponse, error)
}

// LeverageRunner updates accounts one at a time, in input order, pausing
// Delay between calls. A failed account is recorded and the run continues.
type LeverageRunner struct {
	Updater  LeverageUpdater
	Delay    time.Duration
	Progress func(index, total int, result model.LeverageResult)

	sleep func(context.Context, time.Duration) error
	log   *logger.Entry
}

func NewLeverageRunner(updater LeverageUpdater) *LeverageRunner {
	return &LeverageRunner{
		Updater: updater,
		Delay:   GetConfig().LeverageDelay,
		sleep:   sleepContext,
		log:     logger.WithField("component", "leverage"),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run expects a validated leverage. Cancelling ctx stops the run after the
// current account.
func (r *LeverageRunner) Run(ctx context.Context, accounts []model.AccountRef, leverage int) []model.LeverageResult {
	results := make([]model.LeverageResult, 0, len(accounts))
	for i, account := range accounts {
		result := model.LeverageResult{
			ServerID: account.ServerID,
			Login:    account.Login,
			Account:  account.Key(),
		}

		resp, err := r.Updater.UpdateAccountLeverage(ctx, account, leverage)
		if err != nil {
			result.Error = err.Error()
			r.log.WithError(err).WithField("account", result.Account).Warn("leverage update failed")
		} else {
			result.Success = true
			result.NewLeverage = leverage
			if resp != nil && resp.Leverage > 0 {
				result.NewLeverage = resp.Leverage
			}
			r.log.WithFields(logger.Fields{"account": result.Account, "leverage": result.NewLeverage}).Info("leverage updated")
		}
		results = append(results, result)

		if r.Progress != nil {
			r.Progress(i+1, len(accounts), result)
		}
		if i == len(accounts)-1 {
			break
		}
		if err := r.sleep(ctx, r.Delay); err != nil {
			r.log.WithError(err).Warn("leverage run cancelled")
			break
		}
	}
	return results
}

// Summarize counts results; SuccessRate is a percentage rounded to one decimal.
func Summarize(results []model.LeverageResult) model.LeverageSummary {
	s := model.LeverageSummary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			s.Successful++
			continue
		}
		s.Failed++
		s.FailedList = append(s.FailedList, fmt.Sprintf("%s: %s", r.Account, r.Error))
	}
	if s.Total > 0 {
		s.SuccessRate = math.Round(float64(s.Successful)/float64(s.Total)*1000) / 10
	}
	return s
}

// ResultsFileName is leverage_update_results_<epoch_ms>.json.
func ResultsFileName(now time.Time) string {
	return fmt.Sprintf("leverage_update_results_%d.json", now.UnixMilli())
}

// WriteResults stores results as an indented JSON array in dir and returns
// the file path.
func WriteResults(dir string, results []model.LeverageResult, now time.Time) (string, error) {
	if results == nil {
		results = []model.LeverageResult{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	path := filepath.Join(dir, ResultsFileName(now))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	return path, nil
}
