// Package scheduler provides the app whose triggers fire flows on a fixed cadence.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/robfig/cron/v3"
)

const (
	AppKey = "scheduler"

	EveryHourKey = "everyHour"
	EveryDayKey  = "everyDay"
	CronKey      = "cron"

	HourParameter           = "hour"
	CronExpressionParameter = "cronExpression"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type App struct {
	now func() time.Time
}

// New creates the scheduler app. A nil clock defaults to time.Now.
func New(now func() time.Time) *App {
	if now == nil {
		now = time.Now
	}

	return &App{now: now}
}

func (a *App) Key() string  { return AppKey }
func (a *App) Name() string { return "Scheduler" }

func (a *App) Triggers() []protocol.Trigger {
	return []protocol.Trigger{
		&trigger{key: EveryHourKey, name: "Every hour", now: a.now, interval: everyHour},
		&trigger{key: EveryDayKey, name: "Every day", now: a.now, interval: everyDay, fields: []models.Field{
			{Key: HourParameter, Label: "Hour of the day", Type: models.FieldTypeDropdown, Required: true},
		}},
		&trigger{key: CronKey, name: "Cron expression", now: a.now, interval: cronExpression, fields: []models.Field{
			{Key: CronExpressionParameter, Label: "Cron expression", Type: models.FieldTypeString, Required: true},
		}},
	}
}

func (a *App) Actions() []protocol.Action {
	return nil
}

// trigger fires once per due tick. The item id is the tick time, so a job that runs twice
// for one tick produces the same id and is skipped.
type trigger struct {
	key      string
	name     string
	fields   []models.Field
	now      func() time.Time
	interval func(parameters map[string]any) string
}

func (t *trigger) Key() string                { return t.key }
func (t *trigger) Name() string               { return t.name }
func (t *trigger) Kind() protocol.TriggerKind { return protocol.TriggerKindPoll }
func (t *trigger) Fields() []models.Field     { return t.fields }

func (t *trigger) Interval(parameters map[string]any) string {
	return t.interval(parameters)
}

func (t *trigger) Poll(_ context.Context, gc *protocol.GlobalContext) ([]protocol.TriggerItem, error) {
	pattern := t.interval(gc.Parameters)

	schedule, err := parser.Parse(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid cron pattern %q: %w", pattern, err)
	}

	now := t.now().UTC().Truncate(time.Minute)
	firedAt := lastTick(schedule, now)

	return []protocol.TriggerItem{
		{
			InternalID: firedAt.Format(time.RFC3339),
			Data: map[string]any{
				"fired_at": firedAt.Format(time.RFC3339),
				"pattern":  pattern,
			},
		},
	}, nil
}

// lastTick finds the most recent activation at or before now, searching back one week.
func lastTick(schedule cron.Schedule, now time.Time) time.Time {
	start := now.Add(-7 * 24 * time.Hour)
	tick := now

	for next := schedule.Next(start); !next.After(now); next = schedule.Next(next) {
		tick = next
	}

	return tick
}

func everyHour(map[string]any) string {
	return "0 * * * *"
}

func everyDay(parameters map[string]any) string {
	hour := 0

	switch value := parameters[HourParameter].(type) {
	case string:
		if parsed, err := strconv.Atoi(value); err == nil {
			hour = parsed
		}
	case float64:
		hour = int(value)
	case int:
		hour = value
	}

	if hour < 0 || hour > 23 {
		hour = 0
	}

	return fmt.Sprintf("0 %d * * *", hour)
}

func cronExpression(parameters map[string]any) string {
	expression, _ := parameters[CronExpressionParameter].(string)

	return expression
}
