package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// schedulerInterval is how often the periodic trigger is evaluated. Short
// enough that a minute boundary is never skipped.
const schedulerInterval = 20 * time.Second

// OnKPIChange handles a KPI change event: the trainer agent is always
// enqueued, then each affected product agent that is enabled. Enqueue
// failures are logged and skipped so one disabled agent does not block the
// rest of the fan-out.
func (o *Orchestrator) OnKPIChange(kpiData map[string]any) {
	o.logger.Info("orchestrator: processing kpi change event")

	trainerContext := map[string]any{
		"kpi_changes": kpiData,
		"event_type":  "kpi_change",
		"timestamp":   o.now().UTC().Format(time.RFC3339),
	}
	if _, err := o.Enqueue("trainer", trainerContext, "kpi_change"); err != nil {
		o.logger.Warn("orchestrator: kpi change trainer enqueue skipped", "error", err)
	}

	for _, product := range affectedProducts(kpiData) {
		if product != "equity" && product != "options" {
			continue
		}
		if !o.registry.IsEnabled(product) {
			continue
		}
		productContext := map[string]any{
			"kpi_snapshot": kpiData,
			"event_type":   "kpi_change",
			"product":      product,
		}
		if _, err := o.Enqueue(product, productContext, "kpi_change_"+product); err != nil {
			o.logger.Warn("orchestrator: kpi change product enqueue skipped", "agent", product, "error", err)
		}
	}
}

// affectedProducts extracts the affected product list from event data,
// accepting both typed and decoded-JSON shapes. Defaults to equity.
func affectedProducts(kpiData map[string]any) []string {
	switch v := kpiData["affected_products"].(type) {
	case []string:
		return v
	case []any:
		products := make([]string, 0, len(v))
		for _, p := range v {
			if s, ok := p.(string); ok {
				products = append(products, s)
			}
		}
		return products
	}
	return []string{"equity"}
}

// OnPredictionClose handles a closed prediction: the owning product agent is
// enqueued under a prediction_close_<product>_<timeframe> scope.
func (o *Orchestrator) OnPredictionClose(predictionData map[string]any) {
	o.logger.Info("orchestrator: processing prediction close event")

	product := stringOr(predictionData, "product", "equity")
	timeframe := stringOr(predictionData, "timeframe", "5D")

	if !o.registry.IsEnabled(product) {
		return
	}

	eventContext := map[string]any{
		"closed_prediction": predictionData,
		"event_type":        "prediction_close",
		"timestamp":         o.now().UTC().Format(time.RFC3339),
	}
	scope := fmt.Sprintf("prediction_close_%s_%s", product, timeframe)
	if _, err := o.Enqueue(product, eventContext, scope); err != nil {
		o.logger.Warn("orchestrator: prediction close enqueue skipped", "agent", product, "error", err)
	}
}

func stringOr(data map[string]any, key, def string) string {
	if s, ok := data[key].(string); ok && s != "" {
		return s
	}
	return def
}

// SchedulePeriodicRuns evaluates the periodic triggers against now: the
// trainer runs daily at 18:00 and sentiment runs at the top of each hour
// between 09:00 and 15:00. Callers invoke it once per minute boundary;
// RunScheduler handles that cadence in production.
func (o *Orchestrator) SchedulePeriodicRuns(now time.Time) {
	if now.Minute() != 0 {
		return
	}

	if now.Hour() == 18 {
		dailyContext := map[string]any{
			"event_type": "scheduled_daily",
			"timestamp":  now.UTC().Format(time.RFC3339),
		}
		if _, err := o.Enqueue("trainer", dailyContext, "daily_scheduled"); err != nil {
			o.logger.Warn("orchestrator: daily trainer run skipped", "error", err)
		}
	}

	if now.Hour() >= 9 && now.Hour() <= 15 {
		hourlyContext := map[string]any{
			"event_type": "scheduled_hourly",
			"timestamp":  now.UTC().Format(time.RFC3339),
		}
		if _, err := o.Enqueue("sentiment", hourlyContext, "hourly_scheduled"); err != nil {
			o.logger.Warn("orchestrator: hourly sentiment run skipped", "error", err)
		}
	}
}

// RunScheduler drives SchedulePeriodicRuns until ctx is cancelled, firing at
// most once per wall-clock minute.
func (o *Orchestrator) RunScheduler(ctx context.Context) {
	ticker := time.NewTicker(schedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := o.now()
			minute := now.Truncate(time.Minute)

			o.mu.Lock()
			fired := o.lastScheduleTick.Equal(minute)
			if !fired {
				o.lastScheduleTick = minute
			}
			o.mu.Unlock()

			if !fired {
				o.SchedulePeriodicRuns(now)
			}
		}
	}
}
