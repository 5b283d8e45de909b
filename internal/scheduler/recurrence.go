package scheduler

import (
	"fmt"
	"time"

	"github.com/malgorath/cyberbrain/internal/store/models"
	"github.com/robfig/cron/v3"
)

// NextRunTime computes when a recurring schedule fires next, from the given
// instant. One-shot schedules get the far-future sentinel. Cron expressions
// evaluate in the schedule's timezone; the result is returned in UTC.
func NextRunTime(s *models.Schedule, from time.Time) (time.Time, error) {
	if s.IsOneShot() {
		return models.FarFuture, nil
	}

	switch s.Kind {
	case models.ScheduleKindInterval:
		if s.IntervalMinutes == nil || *s.IntervalMinutes <= 0 {
			return time.Time{}, fmt.Errorf("interval schedule %s has no interval", s.ScheduleID)
		}
		return from.Add(time.Duration(*s.IntervalMinutes) * time.Minute).UTC(), nil

	case models.ScheduleKindCron:
		if s.CronExpr == nil || *s.CronExpr == "" {
			return time.Time{}, fmt.Errorf("cron schedule %s has no expression", s.ScheduleID)
		}
		tz := s.Timezone
		if tz == "" {
			tz = "UTC"
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad timezone %q: %w", tz, err)
		}
		spec, err := cron.ParseStandard(*s.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad cron expression %q: %w", *s.CronExpr, err)
		}
		return spec.Next(from.In(loc)).UTC(), nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}
