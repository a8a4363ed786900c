package roster

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rosterhq/rostersync/internal/sync"
)

// RosterBinding returns the binding for group's roster.
func RosterBinding(group string) sync.Binding {
	return sync.Binding{Key: "roster-" + group, Path: "rosters/" + group, Codec: sync.FieldCodec("athletes")}
}

// ConfigBinding returns the binding for the named configuration blob.
func ConfigBinding(name string) sync.Binding {
	return sync.Binding{Key: "config-" + name, Path: "config/" + name, Codec: sync.FieldCodec("value")}
}

// ScheduleBinding returns the binding for group's schedule.
func ScheduleBinding(group string) sync.Binding {
	return sync.Binding{Key: "schedule-" + group, Path: "schedules/" + group, Codec: sync.ObjectCodec}
}

// AuditBinding returns the binding for the audit log of date.
func AuditBinding(date string) sync.Binding {
	return sync.Binding{Key: "audit-" + date, Path: "audit/" + date, Codec: sync.FieldCodec("entries")}
}

// SnapshotBinding returns the binding for the daily snapshot of date.
func SnapshotBinding(date string) sync.Binding {
	return sync.Binding{Key: "snapshot-" + date, Path: "snapshots/" + date, Codec: sync.ObjectCodec}
}

// FeedbackBinding returns the binding for an athlete's feedback.
func FeedbackBinding(athleteID string) sync.Binding {
	return sync.Binding{Key: "feedback-" + athleteID, Path: "feedback/" + athleteID, Codec: sync.FieldCodec("entries")}
}

// Options configures a Service.
type Options struct {
	// Groups lists the roster groups PushAllToRemote reconciles.
	// Nil means DefaultGroups.
	Groups []string

	// ConfigNames lists the configuration blobs PushAllToRemote reconciles.
	// Nil means DefaultConfigNames.
	ConfigNames []string

	// Now is the clock used for generated timestamps. Nil means time.Now.
	Now func() time.Time
}

// Service exposes the roster app's entities over a sync engine.
type Service struct {
	engine      *sync.Engine
	groups      []string
	configNames []string
	now         func() time.Time
}

// NewService creates a Service.
func NewService(engine *sync.Engine, opts Options) *Service {
	if opts.Groups == nil {
		opts.Groups = DefaultGroups
	}
	if opts.ConfigNames == nil {
		opts.ConfigNames = DefaultConfigNames
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		engine:      engine,
		groups:      append([]string(nil), opts.Groups...),
		configNames: append([]string(nil), opts.ConfigNames...),
		now:         opts.Now,
	}
}

// Engine returns the underlying sync engine.
func (s *Service) Engine() *sync.Engine { return s.engine }

// Groups returns the configured roster groups.
func (s *Service) Groups() []string { return append([]string(nil), s.groups...) }

// ConfigNames returns the configured configuration names.
func (s *Service) ConfigNames() []string { return append([]string(nil), s.configNames...) }

// LoadRoster returns group's athletes.
func (s *Service) LoadRoster(ctx context.Context, group string) ([]Athlete, bool) {
	if ValidateGroup(group) != nil {
		return nil, false
	}
	return sync.Load[[]Athlete](ctx, s.engine, RosterBinding(group))
}

// SaveRoster stores group's athletes.
func (s *Service) SaveRoster(ctx context.Context, group string, athletes []Athlete) *sync.Write {
	b := RosterBinding(group)
	if err := ValidateGroup(group); err != nil {
		return sync.Failed(b, err)
	}
	if athletes == nil {
		athletes = []Athlete{}
	}
	return sync.Save(ctx, s.engine, b, athletes)
}

// ListenRoster calls fn with group's athletes on every remote change.
// It returns nil when no remote store is configured.
func (s *Service) ListenRoster(ctx context.Context, group string, fn func([]Athlete)) *sync.Listener {
	if ValidateGroup(group) != nil {
		return nil
	}
	return sync.Listen(ctx, s.engine, RosterBinding(group), fn)
}

// LoadAllRosters loads every configured group that has a roster.
func (s *Service) LoadAllRosters(ctx context.Context) map[string][]Athlete {
	rosters := make(map[string][]Athlete, len(s.groups))
	for _, g := range s.groups {
		if athletes, ok := s.LoadRoster(ctx, g); ok {
			rosters[g] = athletes
		}
	}
	return rosters
}

// LoadConfig returns the named configuration blob.
func LoadConfig[T any](ctx context.Context, s *Service, name string) (T, bool) {
	if ValidateName("config name", name) != nil {
		var zero T
		return zero, false
	}
	return sync.Load[T](ctx, s.engine, ConfigBinding(name))
}

// SaveConfig stores the named configuration blob.
func SaveConfig[T any](ctx context.Context, s *Service, name string, v T) *sync.Write {
	b := ConfigBinding(name)
	if err := ValidateName("config name", name); err != nil {
		return sync.Failed(b, err)
	}
	return sync.Save(ctx, s.engine, b, v)
}

// ListenConfig calls fn on every remote change of the named configuration.
func ListenConfig[T any](ctx context.Context, s *Service, name string, fn func(T)) *sync.Listener {
	if ValidateName("config name", name) != nil {
		return nil
	}
	return sync.Listen(ctx, s.engine, ConfigBinding(name), fn)
}

// LoadSchedule returns group's schedule.
func (s *Service) LoadSchedule(ctx context.Context, group string) (Schedule, bool) {
	if ValidateGroup(group) != nil {
		return Schedule{}, false
	}
	return sync.Load[Schedule](ctx, s.engine, ScheduleBinding(group))
}

// SaveSchedule stores group's schedule, stamping Group and UpdatedAt.
func (s *Service) SaveSchedule(ctx context.Context, group string, schedule Schedule) *sync.Write {
	b := ScheduleBinding(group)
	if err := ValidateGroup(group); err != nil {
		return sync.Failed(b, err)
	}
	schedule.Group = group
	schedule.UpdatedAt = s.now().UTC()
	if schedule.Sessions == nil {
		schedule.Sessions = []Session{}
	}
	return sync.Save(ctx, s.engine, b, schedule)
}

// LoadAudit returns the audit log of date.
func (s *Service) LoadAudit(ctx context.Context, date string) ([]AuditEntry, bool) {
	if ValidateDate(date) != nil {
		return nil, false
	}
	return sync.Load[[]AuditEntry](ctx, s.engine, AuditBinding(date))
}

// SaveAudit replaces the audit log of date.
func (s *Service) SaveAudit(ctx context.Context, date string, entries []AuditEntry) *sync.Write {
	b := AuditBinding(date)
	if err := ValidateDate(date); err != nil {
		return sync.Failed(b, err)
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	return sync.Save(ctx, s.engine, b, entries)
}

// AppendAudit adds entry to the audit log of the day it happened.
func (s *Service) AppendAudit(ctx context.Context, entry AuditEntry) *sync.Write {
	if entry.Time.IsZero() {
		entry.Time = s.now()
	}
	entry.Time = entry.Time.UTC()
	date := entry.Time.Format(DateLayout)
	if entry.Action == "" {
		return sync.Failed(AuditBinding(date), fmt.Errorf("audit action is required"))
	}
	entries, _ := s.LoadAudit(ctx, date)
	return s.SaveAudit(ctx, date, append(entries, entry))
}

// LoadSnapshot returns the daily snapshot of date.
func (s *Service) LoadSnapshot(ctx context.Context, date string) (DailySnapshot, bool) {
	if ValidateDate(date) != nil {
		return DailySnapshot{}, false
	}
	return sync.Load[DailySnapshot](ctx, s.engine, SnapshotBinding(date))
}

// SaveSnapshot stores the daily snapshot of date.
func (s *Service) SaveSnapshot(ctx context.Context, date string, snapshot DailySnapshot) *sync.Write {
	b := SnapshotBinding(date)
	if err := ValidateDate(date); err != nil {
		return sync.Failed(b, err)
	}
	snapshot.Date = date
	return sync.Save(ctx, s.engine, b, snapshot)
}

// TakeSnapshot summarizes every configured roster and saves the result
// as date's snapshot.
func (s *Service) TakeSnapshot(ctx context.Context, date string) (DailySnapshot, *sync.Write) {
	snap := Summarize(date, s.LoadAllRosters(ctx), s.now())
	return snap, s.SaveSnapshot(ctx, date, snap)
}

// LoadFeedback returns the feedback left for an athlete.
func (s *Service) LoadFeedback(ctx context.Context, athleteID string) ([]FeedbackEntry, bool) {
	if ValidateName("athlete id", athleteID) != nil {
		return nil, false
	}
	return sync.Load[[]FeedbackEntry](ctx, s.engine, FeedbackBinding(athleteID))
}

// SaveFeedback replaces the feedback left for an athlete.
func (s *Service) SaveFeedback(ctx context.Context, athleteID string, entries []FeedbackEntry) *sync.Write {
	b := FeedbackBinding(athleteID)
	if err := ValidateName("athlete id", athleteID); err != nil {
		return sync.Failed(b, err)
	}
	if entries == nil {
		entries = []FeedbackEntry{}
	}
	return sync.Save(ctx, s.engine, b, entries)
}

// AddFeedback appends a new note for athleteID and returns it.
func (s *Service) AddFeedback(ctx context.Context, athleteID, author, message string) (FeedbackEntry, *sync.Write) {
	entry := FeedbackEntry{
		ID:        uuid.NewString(),
		AthleteID: athleteID,
		Author:    author,
		Message:   message,
		CreatedAt: s.now().UTC(),
	}
	if message == "" {
		return entry, sync.Failed(FeedbackBinding(athleteID), fmt.Errorf("feedback message is required"))
	}
	entries, _ := s.LoadFeedback(ctx, athleteID)
	return entry, s.SaveFeedback(ctx, athleteID, append(entries, entry))
}

// Plan returns the fixed key set PushAllToRemote reconciles: every group's
// roster as one batch and every configuration name individually.
func (s *Service) Plan() sync.PushPlan {
	var plan sync.PushPlan
	for _, g := range s.groups {
		plan.Batch = append(plan.Batch, RosterBinding(g))
	}
	for _, n := range s.configNames {
		plan.Single = append(plan.Single, ConfigBinding(n))
	}
	return plan
}

// PushAllToRemote writes every populated roster and configuration key to
// the remote store.
func (s *Service) PushAllToRemote(ctx context.Context) sync.PushResult {
	return s.engine.PushAll(ctx, s.Plan())
}
