package background

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"

	"github.com/swarmguard/workflowmesh/internal/kv"
	"github.com/swarmguard/workflowmesh/internal/runtime"
	"github.com/swarmguard/workflowmesh/internal/storekeys"
)

// ScheduleConfig is a persisted cron-triggered workflow submission,
// supplemental to spec.md per SPEC_FULL.md, grounded on the teacher's
// scheduler.go ScheduleConfig.
type ScheduleConfig struct {
	ID            string `json:"id"`
	WorkflowType  string `json:"workflowType"`
	CronExpr      string `json:"cronExpr"`
	InputTemplate []byte `json:"inputTemplate"`
	Enabled       bool   `json:"enabled"`
}

// Scheduler fires Runtime.Submit on a cron schedule, grounded directly on
// the teacher's scheduler.go use of robfig/cron/v3 plus bbolt-backed
// schedule persistence (here, the C/ namespace of storekeys).
type Scheduler struct {
	kv      kv.Store
	runtime *runtime.Runtime
	logger  *slog.Logger
	cron    *cronlib.Cron

	mu      sync.Mutex
	entryID map[string]cronlib.EntryID
}

func NewScheduler(store kv.Store, rt *runtime.Runtime, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		kv:      store,
		runtime: rt,
		logger:  logger,
		cron:    cronlib.New(cronlib.WithSeconds()),
		entryID: make(map[string]cronlib.EntryID),
	}
}

// AddSchedule persists cfg and registers it with the cron runner.
func (s *Scheduler) AddSchedule(ctx context.Context, cfg ScheduleConfig) (ScheduleConfig, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return ScheduleConfig{}, fmt.Errorf("background: add schedule: encode: %w", err)
	}
	if err := s.kv.Put(ctx, storekeys.Schedule(cfg.ID), b); err != nil {
		return ScheduleConfig{}, fmt.Errorf("background: add schedule: persist: %w", err)
	}
	if cfg.Enabled {
		if err := s.register(cfg); err != nil {
			return ScheduleConfig{}, err
		}
	}
	return cfg, nil
}

// RemoveSchedule deletes cfg's persisted row and unregisters its cron entry.
func (s *Scheduler) RemoveSchedule(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	if id, ok := s.entryID[scheduleID]; ok {
		s.cron.Remove(id)
		delete(s.entryID, scheduleID)
	}
	s.mu.Unlock()
	if err := s.kv.Delete(ctx, storekeys.Schedule(scheduleID)); err != nil {
		return fmt.Errorf("background: remove schedule: %w", err)
	}
	return nil
}

// RestoreSchedules loads every persisted schedule and re-registers the
// enabled ones, for use on node startup, grounded on scheduler.go's own
// RestoreSchedules.
func (s *Scheduler) RestoreSchedules(ctx context.Context) error {
	it, err := s.kv.Scan(ctx, storekeys.SchedulePrefix())
	if err != nil {
		return fmt.Errorf("background: restore schedules: scan: %w", err)
	}
	defer it.Close()

	for it.Next() {
		var cfg ScheduleConfig
		if err := json.Unmarshal(it.Entry().Value, &cfg); err != nil {
			return fmt.Errorf("background: restore schedules: decode: %w", err)
		}
		if cfg.Enabled {
			if err := s.register(cfg); err != nil {
				return err
			}
		}
	}
	return it.Err()
}

func (s *Scheduler) register(cfg ScheduleConfig) error {
	id, err := s.cron.AddFunc(cfg.CronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.runtime.Submit(ctx, cfg.WorkflowType, "", cfg.InputTemplate); err != nil {
			s.logger.Error("scheduler: submit failed", "schedule_id", cfg.ID, "workflow_type", cfg.WorkflowType, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("background: register schedule %s: %w", cfg.ID, err)
	}
	s.mu.Lock()
	s.entryID[cfg.ID] = id
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }
func (s *Scheduler) Stop()  { <-s.cron.Stop().Done() }
