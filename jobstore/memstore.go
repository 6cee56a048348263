package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by unit tests that exercise the trigger
// state machine without a live database. It applies the same conditional-update
// and cascade rules as the postgres implementation but serializes everything
// behind a single mutex instead of relying on row-level locking.
type MemStore struct {
	mu sync.Mutex

	jobs      map[Key]*JobDetail
	triggers  map[Key]*Trigger
	calendars map[string]*Calendar
	fired     map[string]*FiredTrigger
	instances map[string]*SchedulerInstance
	paused    map[string]bool

	nextLockHolder string
	locks          map[string]chan struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{
		jobs:      make(map[Key]*JobDetail),
		triggers:  make(map[Key]*Trigger),
		calendars: make(map[string]*Calendar),
		fired:     make(map[string]*FiredTrigger),
		instances: make(map[string]*SchedulerInstance),
		paused:    make(map[string]bool),
		locks:     make(map[string]chan struct{}),
	}
}

func cloneJob(j *JobDetail) *JobDetail {
	if j == nil {
		return nil
	}
	cp := *j
	if j.JobDataMap != nil {
		cp.JobDataMap = make(map[string]any, len(j.JobDataMap))
		for k, v := range j.JobDataMap {
			cp.JobDataMap[k] = v
		}
	}
	cp.Listeners = append([]string(nil), j.Listeners...)
	return &cp
}

func cloneTrigger(t *Trigger) *Trigger {
	if t == nil {
		return nil
	}
	cp := *t
	if t.JobDataMap != nil {
		cp.JobDataMap = make(map[string]any, len(t.JobDataMap))
		for k, v := range t.JobDataMap {
			cp.JobDataMap[k] = v
		}
	}
	cp.Listeners = append([]string(nil), t.Listeners...)
	if t.Simple != nil {
		f := *t.Simple
		cp.Simple = &f
	}
	if t.Cron != nil {
		f := *t.Cron
		cp.Cron = &f
	}
	if t.Blob != nil {
		f := *t.Blob
		cp.Blob = &f
	}
	return &cp
}

func (m *MemStore) InsertJob(ctx context.Context, job *JobDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.Key]; ok {
		return ErrObjectAlreadyExists
	}
	m.jobs[job.Key] = cloneJob(job)
	return nil
}

func (m *MemStore) UpdateJob(ctx context.Context, job *JobDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.Key] = cloneJob(job)
	return nil
}

func (m *MemStore) DeleteJob(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, key)
	return nil
}

func (m *MemStore) GetJob(ctx context.Context, key Key) (*JobDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneJob(m.jobs[key]), nil
}

func (m *MemStore) JobExists(ctx context.Context, key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[key]
	return ok, nil
}

func (m *MemStore) JobGroupNames(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := map[string]struct{}{}
	for k := range m.jobs {
		set[k.Group] = struct{}{}
	}
	return sortedKeys(set), nil
}

func (m *MemStore) JobNamesInGroup(ctx context.Context, group string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.jobs {
		if k.Group == group {
			out = append(out, k.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) TriggerKeysForJob(ctx context.Context, key Key) ([]Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggerKeysForJobLocked(key), nil
}

func (m *MemStore) triggerKeysForJobLocked(key Key) []Key {
	var out []Key
	for k, t := range m.triggers {
		if t.JobKey == key {
			out = append(out, k)
		}
	}
	return out
}

func (m *MemStore) InsertTrigger(ctx context.Context, trigger *Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.triggers[trigger.Key]; ok {
		return ErrObjectAlreadyExists
	}
	m.triggers[trigger.Key] = cloneTrigger(trigger)
	return nil
}

func (m *MemStore) UpdateTrigger(ctx context.Context, trigger *Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[trigger.Key] = cloneTrigger(trigger)
	return nil
}

func (m *MemStore) DeleteTrigger(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[key]
	if !ok {
		return nil
	}
	jobKey := t.JobKey
	delete(m.triggers, key)
	for id, f := range m.fired {
		if f.TriggerKey == key {
			delete(m.fired, id)
		}
	}
	if job, ok := m.jobs[jobKey]; ok && job.IsOrphanable() {
		if len(m.triggerKeysForJobLocked(jobKey)) == 0 {
			delete(m.jobs, jobKey)
		}
	}
	return nil
}

func (m *MemStore) GetTrigger(ctx context.Context, key Key) (*Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneTrigger(m.triggers[key]), nil
}

func (m *MemStore) TriggerExists(ctx context.Context, key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.triggers[key]
	return ok, nil
}

func (m *MemStore) GetTriggerState(ctx context.Context, key Key) (TriggerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[key]
	if !ok {
		return StateDeleted, nil
	}
	return t.State, nil
}

func (m *MemStore) TriggerGroupNames(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := map[string]struct{}{}
	for k := range m.triggers {
		set[k.Group] = struct{}{}
	}
	return sortedKeys(set), nil
}

func (m *MemStore) TriggerNamesInGroup(ctx context.Context, group string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.triggers {
		if k.Group == group {
			out = append(out, k.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func inStates(s TriggerState, olds []TriggerState) bool {
	for _, o := range olds {
		if s == o {
			return true
		}
	}
	return false
}

func (m *MemStore) UpdateTriggerStateFromStates(ctx context.Context, key Key, new TriggerState, olds ...TriggerState) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[key]
	if !ok || !inStates(t.State, olds) {
		return 0, nil
	}
	t.State = new
	return 1, nil
}

func (m *MemStore) UpdateTriggerGroupStateFromStates(ctx context.Context, group string, new TriggerState, olds ...TriggerState) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, t := range m.triggers {
		if k.Group == group && inStates(t.State, olds) {
			t.State = new
			n++
		}
	}
	return n, nil
}

func (m *MemStore) UpdateTriggerStateForJob(ctx context.Context, jobKey Key, new TriggerState, olds ...TriggerState) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.triggers {
		if t.JobKey == jobKey && inStates(t.State, olds) {
			t.State = new
			n++
		}
	}
	return n, nil
}

func (m *MemStore) TriggersForCalendar(ctx context.Context, calendarName string) ([]Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Key
	for k, t := range m.triggers {
		if t.CalendarName == calendarName {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *MemStore) InsertCalendar(ctx context.Context, cal *Calendar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calendars[cal.Name]; ok {
		return ErrObjectAlreadyExists
	}
	cp := *cal
	m.calendars[cal.Name] = &cp
	return nil
}

func (m *MemStore) UpdateCalendar(ctx context.Context, cal *Calendar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cal
	m.calendars[cal.Name] = &cp
	return nil
}

func (m *MemStore) DeleteCalendar(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.triggers {
		if t.CalendarName == name {
			return ErrCalendarInUse
		}
	}
	delete(m.calendars, name)
	return nil
}

func (m *MemStore) GetCalendar(ctx context.Context, name string) (*Calendar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calendars[name]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MemStore) CalendarNames(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := map[string]struct{}{}
	for name := range m.calendars {
		set[name] = struct{}{}
	}
	return sortedKeys(set), nil
}

func (m *MemStore) FiredTriggersByInstance(ctx context.Context, instanceId string) ([]*FiredTrigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*FiredTrigger
	for _, f := range m.fired {
		if f.InstanceId == instanceId {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) FiredTriggersByTriggerKey(ctx context.Context, key Key) ([]*FiredTrigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*FiredTrigger
	for _, f := range m.fired {
		if f.TriggerKey == key {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) DeleteFiredTrigger(ctx context.Context, entryId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fired, entryId)
	return nil
}

func (m *MemStore) PausedTriggerGroups(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for g, on := range m.paused {
		if on {
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) AddPausedTriggerGroup(ctx context.Context, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused[group] = true
	return nil
}

func (m *MemStore) RemovePausedTriggerGroup(ctx context.Context, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.paused, group)
	return nil
}

func (m *MemStore) IsTriggerGroupPaused(ctx context.Context, group string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused[group], nil
}

func (m *MemStore) InsertSchedulerInstance(ctx context.Context, inst *SchedulerInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inst
	m.instances[inst.InstanceId] = &cp
	return nil
}

func (m *MemStore) UpdateCheckinTime(ctx context.Context, instanceId string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[instanceId]; ok {
		inst.LastCheckinTime = at
	}
	return nil
}

func (m *MemStore) SchedulerInstances(ctx context.Context) ([]*SchedulerInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*SchedulerInstance
	for _, inst := range m.instances {
		cp := *inst
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemStore) RemoveSchedulerInstance(ctx context.Context, instanceId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, instanceId)
	return nil
}

func (m *MemStore) ClaimRecovery(ctx context.Context, deadInstanceId string, recovererId string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[deadInstanceId]
	if !ok || inst.Recoverer != "" {
		return false, nil
	}
	inst.Recoverer = recovererId
	return true, nil
}

func (m *MemStore) AcquireNextTriggers(ctx context.Context, instanceId string, noLaterThan time.Time, timeWindow time.Duration, maxCount int) ([]*Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := noLaterThan.Add(timeWindow)
	var candidates []*Trigger
	for _, t := range m.triggers {
		if t.State == StateWaiting && t.NextFireTime != nil && !t.NextFireTime.After(cutoff) {
			candidates = append(candidates, t)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextFireTime.Before(*candidates[j].NextFireTime)
	})
	if maxCount > 0 && len(candidates) > maxCount {
		candidates = candidates[:maxCount]
	}

	var acquired []*Trigger
	for _, t := range candidates {
		t.State = StateAcquired
		acquired = append(acquired, cloneTrigger(t))
		id := newEntryId(instanceId, t.Key)
		m.fired[id] = &FiredTrigger{
			EntryId:    id,
			TriggerKey: t.Key,
			Volatile:   t.Volatile,
			InstanceId: instanceId,
			FiredTime:  noLaterThan,
			SchedTime:  *t.NextFireTime,
			State:      FiredAcquired,
			JobKey:     &t.JobKey,
		}
	}
	return acquired, nil
}

func (m *MemStore) TriggersFired(ctx context.Context, instanceId string, triggers []*Trigger) ([]*FireResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []*FireResult
	for _, fired := range triggers {
		live, ok := m.triggers[fired.Key]
		if !ok || live.State != StateAcquired {
			results = append(results, &FireResult{Trigger: fired, Err: ErrNoRowsAffected})
			continue
		}

		job := m.jobs[fired.JobKey]

		*live = *cloneTrigger(fired)
		switch {
		case live.HasNoFurtherFires():
			live.State = StateComplete
		case job != nil && job.Stateful:
			live.State = StateBlocked
			for _, sib := range m.triggers {
				if sib.JobKey == fired.JobKey && sib.State == StateWaiting {
					sib.State = StateBlocked
				}
			}
		default:
			live.State = StateWaiting
		}

		for _, f := range m.fired {
			if f.TriggerKey == fired.Key && f.InstanceId == instanceId {
				f.State = FiredExecuting
				if job != nil {
					f.JobKey = &job.Key
					f.IsStateful = job.Stateful
					f.RequestsRecovery = job.RequestsRecovery
				}
			}
		}

		results = append(results, &FireResult{Trigger: cloneTrigger(live), JobDetail: cloneJob(job)})
	}
	return results, nil
}

func (m *MemStore) TriggeredJobComplete(ctx context.Context, triggerKey Key, jobKey Key, instruction CompletionInstruction, jobDataMap map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, f := range m.fired {
		if f.TriggerKey == triggerKey {
			delete(m.fired, id)
		}
	}

	if t, ok := m.triggers[triggerKey]; ok {
		switch instruction {
		case InstructionSetTriggerComplete:
			t.State = StateComplete
		case InstructionDeleteTrigger:
			delete(m.triggers, triggerKey)
		case InstructionSetTriggerError:
			t.State = StateError
		}
		if jobDataMap != nil {
			t.JobDataMap = jobDataMap
		}
	}

	if job, ok := m.jobs[jobKey]; ok && job.Stateful {
		if instruction == InstructionSetTriggerError {
			for _, sib := range m.triggers {
				if sib.JobKey == jobKey {
					sib.State = StateError
				}
			}
			return nil
		}
		for _, sib := range m.triggers {
			if sib.JobKey != jobKey {
				continue
			}
			switch sib.State {
			case StateBlocked:
				sib.State = StateWaiting
			case StatePausedBlocked:
				sib.State = StatePaused
			}
		}
	}
	return nil
}

func (m *MemStore) GetMisfiredTriggers(ctx context.Context, group string, misfireTime time.Time, maxCount int) ([]*Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Trigger
	for k, t := range m.triggers {
		if t.State != StateWaiting || t.NextFireTime == nil {
			continue
		}
		if group != "" && k.Group != group {
			continue
		}
		if t.NextFireTime.Before(misfireTime) {
			out = append(out, cloneTrigger(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextFireTime.Before(*out[j].NextFireTime)
	})
	if maxCount > 0 && len(out) > maxCount {
		out = out[:maxCount]
	}
	return out, nil
}

// WithLock serializes fn against the store's own mutex per lock name: since
// MemStore already holds a single global mutex per call, this only needs to
// prevent two WithLock callers for the same name from interleaving their
// internal (non-locked) logic.
func (m *MemStore) WithLock(ctx context.Context, lockName string, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	ch, busy := m.locks[lockName]
	if !busy {
		ch = make(chan struct{})
		m.locks[lockName] = ch
	}
	m.mu.Unlock()

	if busy {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		return m.WithLock(ctx, lockName, fn)
	}

	defer func() {
		m.mu.Lock()
		delete(m.locks, lockName)
		m.mu.Unlock()
		close(ch)
	}()
	return fn(ctx)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var entrySeq struct {
	mu sync.Mutex
	n  int
}

// newEntryId mints a deterministic, unique-enough id for tests. Production
// code (package postgres) mints ids with google/uuid instead.
func newEntryId(instanceId string, key Key) string {
	entrySeq.mu.Lock()
	entrySeq.n++
	n := entrySeq.n
	entrySeq.mu.Unlock()
	return instanceId + "-" + key.String() + "-" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
