package executors

import (
	"context"
	"time"

	"brokerdash/src/controller"

	logger "github.com/sirupsen/logrus"
)

type DealingComputer interface {
	Compute(ctx context.Context, w controller.Window) (*controller.DealingMetrics, error)
}

// TodayWindow covers the current UTC day.
func TodayWindow(now time.Time) controller.Window {
	return controller.DayWindow(now, now)
}

// DealingLoop recomputes dealing metrics once on start and then every Period,
// handing each snapshot to OnTick. A failed tick is logged and skipped.
type DealingLoop struct {
	Computer DealingComputer
	Period   time.Duration
	Window   func(now time.Time) controller.Window
	OnTick   func(m *controller.DealingMetrics) error

	now func() time.Time
	log *logger.Entry
}

func NewDealingLoop(computer DealingComputer, onTick func(m *controller.DealingMetrics) error) *DealingLoop {
	return &DealingLoop{
		Computer: computer,
		Period:   GetConfig().RefreshPeriod,
		Window:   TodayWindow,
		OnTick:   onTick,
		now:      time.Now,
		log:      logger.WithField("component", "dealing_loop"),
	}
}

// Run blocks until ctx is cancelled or OnTick returns an error. Cancellation
// is not an error.
func (l *DealingLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.Period)
	defer ticker.Stop()

	if err := l.tick(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			l.log.Info("dealing loop stopped")
			return nil
		case <-ticker.C:
			if err := l.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (l *DealingLoop) tick(ctx context.Context) error {
	metrics, err := l.Computer.Compute(ctx, l.Window(l.now()))
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		l.log.WithError(err).Error("dealing refresh failed")
		return nil
	}
	if l.OnTick == nil {
		return nil
	}
	return l.OnTick(metrics)
}

// LogMetrics is an OnTick that writes a one-line summary of the snapshot.
func LogMetrics(m *controller.DealingMetrics) error {
	fields := logger.Fields{
		"source":      m.Source,
		"equity":      m.TotalEquity,
		"credit":      m.TotalCredit,
		"traded_lots": m.TradedLots,
		"open_lots":   m.OpenLots,
		"positions":   m.Counts.Positions,
		"deals":       m.Counts.Deals,
	}
	if len(m.Exposure) > 0 {
		fields["top_exposure"] = m.Exposure[0].Symbol
	}
	entry := logger.WithField("component", "dealing_loop").WithFields(fields)
	if m.Notice != "" {
		entry.Warn(m.Notice)
		return nil
	}
	entry.Info("dealing snapshot")
	return nil
}
