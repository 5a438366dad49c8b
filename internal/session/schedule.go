package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/splicecast/splicecast/internal/models"
)

// ScheduleEntry is one recurring ad break. Spec matches the cron package's
// standard five-field format, with @every durations also accepted.
type ScheduleEntry struct {
	Session  string  `yaml:"session"`
	Spec     string  `yaml:"cron"`
	Duration float64 `yaml:"duration"`
	PreRoll  float64 `yaml:"preRoll"`
}

// ScheduleFile is the on-disk schedule document.
type ScheduleFile struct {
	Breaks []ScheduleEntry `yaml:"breaks"`
}

// Scheduler fires CUE-OUT events against named sessions on cron schedules.
// A tick against a session that does not exist or is not running is logged
// and skipped; the schedule keeps running.
type Scheduler struct {
	mgr    *Manager
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler loads the schedule file and registers its entries.
func NewScheduler(path string, mgr *Manager, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schedule file: %w", err)
	}
	var file ScheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing schedule file: %w", err)
	}

	s := &Scheduler{
		mgr:    mgr,
		cron:   cron.New(),
		logger: logger.With("component", "schedule"),
	}
	for i, entry := range file.Breaks {
		if err := s.add(entry); err != nil {
			return nil, fmt.Errorf("schedule entry %d: %w", i, err)
		}
	}
	return s, nil
}

func (s *Scheduler) add(entry ScheduleEntry) error {
	if entry.Session == "" {
		return fmt.Errorf("session name is required")
	}
	if entry.Duration <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	_, err := s.cron.AddFunc(entry.Spec, func() { s.fire(entry) })
	if err != nil {
		return fmt.Errorf("cron spec %q: %w", entry.Spec, err)
	}
	return nil
}

func (s *Scheduler) fire(entry ScheduleEntry) {
	event, err := s.mgr.Inject(context.Background(), entry.Session, EventRequest{
		Type:     models.EventCueOut,
		Duration: entry.Duration,
		PreRoll:  entry.PreRoll,
	})
	if err != nil {
		s.logger.Warn("scheduled break skipped",
			"session", entry.Session, "error", err)
		return
	}
	s.logger.Info("scheduled break fired",
		"session", entry.Session, "eventId", event.EventID, "duration", entry.Duration)
}

// Start begins firing scheduled breaks.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("schedule started", "entries", len(s.cron.Entries()))
}

// Stop halts the schedule and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
