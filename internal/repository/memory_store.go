// internal/repository/memory_store.go
package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/model"
)

// MemoryStore is an in-process Gateway. Every method runs under one mutex,
// so the conditional operations keep the same atomicity as their SQL
// counterparts. Values are copied in and out.
type MemoryStore struct {
	mu sync.Mutex

	campaigns    map[string]*model.Campaign
	recipients   map[string][]*model.Recipient
	counterparts []*model.Counterpart
	tasks        map[string]*model.EmailTask
	counters     map[string]*model.SendingScheduleCounter
	responses    map[string]*model.ResponseRecord
	deadLetters  map[string]*model.DeadLetterEntry
	audit        []*model.AuditLogEntry
	attempts     []*model.DeliveryAttempt
	violations   []*model.RateLimitViolation

	// PingErr, when set, is returned by Ping.
	PingErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns:   make(map[string]*model.Campaign),
		recipients:  make(map[string][]*model.Recipient),
		tasks:       make(map[string]*model.EmailTask),
		counters:    make(map[string]*model.SendingScheduleCounter),
		responses:   make(map[string]*model.ResponseRecord),
		deadLetters: make(map[string]*model.DeadLetterEntry),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.PingErr
}

// ====================== Campaigns ======================

func (m *MemoryStore) CreateCampaign(_ context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.CreatedAt = time.Now()
	for i := range c.Stages {
		c.Stages[i].CampaignID = c.ID
	}
	m.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (m *MemoryStore) GetCampaign(_ context.Context, id string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return copyCampaign(c), nil
}

func (m *MemoryStore) TransitionCampaign(_ context.Context, id string, from, to model.CampaignStatus, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	now := time.Now()
	c.Status = to
	c.PausedReason = reason
	c.UpdatedAt = &now
	return true, nil
}

func (m *MemoryStore) CompleteDrainedCampaigns(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hasTasks := make(map[string]bool)
	open := make(map[string]bool)
	for _, t := range m.tasks {
		hasTasks[t.CampaignID] = true
		switch t.Status {
		case model.TaskOnHold, model.TaskPending, model.TaskSending:
			open[t.CampaignID] = true
		}
	}

	ids := []string{}
	now := time.Now()
	for id, c := range m.campaigns {
		if c.Status == model.CampaignActive && hasTasks[id] && !open[id] {
			c.Status = model.CampaignCompleted
			c.UpdatedAt = &now
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) CreateRecipients(_ context.Context, recipients []*model.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recipients {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		cp := *r
		m.recipients[r.CampaignID] = append(m.recipients[r.CampaignID], &cp)
	}
	return nil
}

func (m *MemoryStore) ListRecipients(_ context.Context, campaignID string) ([]*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Recipient, 0, len(m.recipients[campaignID]))
	for _, r := range m.recipients[campaignID] {
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *MemoryStore) CreateCounterpart(_ context.Context, c *model.Counterpart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	cp := *c
	m.counterparts = append(m.counterparts, &cp)
	return nil
}

func (m *MemoryStore) ListCounterparts(_ context.Context, ownerID string) ([]*model.Counterpart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Counterpart{}
	for _, c := range m.counterparts {
		if c.OwnerID == ownerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ====================== Tasks ======================

func (m *MemoryStore) InsertTasks(_ context.Context, tasks []*model.EmailTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.CreatedAt = now
		t.UpdatedAt = now
		m.tasks[t.ID] = copyTask(t)
	}
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*model.EmailTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, &appErrors.ErrTaskNotFound{TaskID: id}
	}
	return copyTask(t), nil
}

func (m *MemoryStore) UpdateTaskStatus(_ context.Context, id string, from model.TaskStatus, upd model.TaskUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = upd.To
	if upd.RetryCount != nil {
		t.RetryCount = *upd.RetryCount
	}
	if upd.ErrorMessage != nil {
		t.ErrorMessage = *upd.ErrorMessage
	}
	if upd.ScheduledFor != nil {
		t.ScheduledFor = *upd.ScheduledFor
	}
	if upd.ProviderMessageID != nil {
		t.ProviderMessageID = *upd.ProviderMessageID
	}
	if upd.ThreadID != nil {
		t.ThreadID = *upd.ThreadID
	}
	if upd.SentAt != nil {
		sent := *upd.SentAt
		t.SentAt = &sent
	}
	if upd.SendingStartedAt != nil {
		started := *upd.SendingStartedAt
		t.SendingStartedAt = &started
	}
	if upd.Subject != nil {
		t.Subject = *upd.Subject
	}
	if upd.Body != nil {
		t.Body = *upd.Body
	}
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) RescheduleTask(_ context.Context, id string, status model.TaskStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != status {
		return false, nil
	}
	t.ScheduledFor = at
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) ClaimDueTasks(_ context.Context, now time.Time, limit int) ([]*model.EmailTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := []*model.EmailTask{}
	for _, t := range m.tasks {
		if t.Status != model.TaskPending || t.ScheduledFor.After(now) {
			continue
		}
		if c, ok := m.campaigns[t.CampaignID]; !ok || c.Status != model.CampaignActive {
			continue
		}
		if t.ParentTaskID != nil {
			if p, ok := m.tasks[*t.ParentTaskID]; !ok || p.Status != model.TaskSent {
				continue
			}
		}
		due = append(due, t)
	}
	sortTasks(due, func(t *model.EmailTask) time.Time { return t.ScheduledFor }, false)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*model.EmailTask, 0, len(due))
	for _, t := range due {
		started := now
		t.Status = model.TaskSending
		t.SendingStartedAt = &started
		t.UpdatedAt = now
		out = append(out, copyTask(t))
	}
	return out, nil
}

func (m *MemoryStore) ListStuckSending(_ context.Context, startedBefore time.Time) ([]*model.EmailTask, error) {
	return m.filterTasks(func(t *model.EmailTask) bool {
		return t.Status == model.TaskSending && t.SendingStartedAt != nil && t.SendingStartedAt.Before(startedBefore)
	}, func(t *model.EmailTask) time.Time { return *t.SendingStartedAt }, false), nil
}

func (m *MemoryStore) CancelTasksForRecipient(_ context.Context, campaignID, recipient, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.CampaignID == campaignID && strings.EqualFold(t.RecipientEmail, recipient) && t.Status.IsQueued() {
			m.cancelLocked(t, reason)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CancelCampaignTasks(_ context.Context, campaignID, reason string, statuses ...model.TaskStatus) (int, error) {
	if len(statuses) == 0 {
		statuses = []model.TaskStatus{model.TaskPending}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.CampaignID != campaignID {
			continue
		}
		for _, s := range statuses {
			if t.Status == s {
				m.cancelLocked(t, reason)
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *MemoryStore) cancelLocked(t *model.EmailTask, reason string) {
	t.Status = model.TaskCancelled
	t.ErrorMessage = reason
	t.UpdatedAt = time.Now()
}

func (m *MemoryStore) FindSentByMessageID(_ context.Context, id string) (*model.EmailTask, error) {
	if id == "" {
		return nil, nil
	}
	return firstTask(m.filterTasks(func(t *model.EmailTask) bool {
		return isDelivered(t) && (t.ProviderMessageID == id || t.ThreadID == id)
	}, sentAt, true)), nil
}

func (m *MemoryStore) FindLatestSentTo(_ context.Context, recipient, campaignID string, since time.Time) (*model.EmailTask, error) {
	return firstTask(m.filterTasks(func(t *model.EmailTask) bool {
		return isDelivered(t) && strings.EqualFold(t.RecipientEmail, recipient) &&
			!sentAt(t).Before(since) && (campaignID == "" || t.CampaignID == campaignID)
	}, sentAt, true)), nil
}

func (m *MemoryStore) ListSentTo(_ context.Context, recipient string, since time.Time) ([]*model.EmailTask, error) {
	return m.filterTasks(func(t *model.EmailTask) bool {
		return isDelivered(t) && strings.EqualFold(t.RecipientEmail, recipient) && !sentAt(t).Before(since)
	}, sentAt, true), nil
}

func (m *MemoryStore) ListOnHold(_ context.Context, campaignID string) ([]*model.EmailTask, error) {
	return m.filterTasks(func(t *model.EmailTask) bool {
		return t.CampaignID == campaignID && t.Status == model.TaskOnHold
	}, func(t *model.EmailTask) time.Time { return t.ScheduledFor }, false), nil
}

func (m *MemoryStore) ListFollowUps(_ context.Context, parentID string) ([]*model.EmailTask, error) {
	out := m.filterTasks(func(t *model.EmailTask) bool {
		return t.ParentTaskID != nil && *t.ParentTaskID == parentID
	}, func(t *model.EmailTask) time.Time { return t.ScheduledFor }, false)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StageNumber < out[j].StageNumber })
	return out, nil
}

func (m *MemoryStore) CountTasksByStatus(_ context.Context, campaignID string) (map[model.TaskStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.TaskStatus]int)
	for _, t := range m.tasks {
		if campaignID == "" || t.CampaignID == campaignID {
			counts[t.Status]++
		}
	}
	return counts, nil
}

func (m *MemoryStore) NextScheduledSend(_ context.Context, campaignID string) (*time.Time, error) {
	pending := m.filterTasks(func(t *model.EmailTask) bool {
		return t.CampaignID == campaignID && t.Status == model.TaskPending
	}, func(t *model.EmailTask) time.Time { return t.ScheduledFor }, false)
	if len(pending) == 0 {
		return nil, nil
	}
	next := pending[0].ScheduledFor
	return &next, nil
}

// TasksFor returns every task of a campaign ordered by scheduled_for,
// then stage number.
func (m *MemoryStore) TasksFor(campaignID string) []*model.EmailTask {
	out := m.filterTasks(func(t *model.EmailTask) bool {
		return t.CampaignID == campaignID
	}, func(t *model.EmailTask) time.Time { return t.ScheduledFor }, false)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].StageNumber < out[j].StageNumber
		}
		return out[i].ScheduledFor.Before(out[j].ScheduledFor)
	})
	return out
}

func (m *MemoryStore) filterTasks(keep func(*model.EmailTask) bool, key func(*model.EmailTask) time.Time, desc bool) []*model.EmailTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.EmailTask{}
	for _, t := range m.tasks {
		if keep(t) {
			out = append(out, copyTask(t))
		}
	}
	sortTasks(out, key, desc)
	return out
}

// ====================== Schedule ======================

func counterKey(ownerID string, date time.Time) string {
	return ownerID + "|" + date.Format(sendDateLayout)
}

func (m *MemoryStore) ReserveSlot(_ context.Context, req model.SlotRequest) (model.Slot, error) {
	if req.DailyCap <= 0 {
		return model.Slot{}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[req.CampaignID]
	if !ok {
		return model.Slot{}, appErrors.NewCampaignNotFound(req.CampaignID)
	}
	if c.Status != model.CampaignActive {
		return model.Slot{}, &appErrors.ErrInvalidCampaignState{CampaignID: req.CampaignID, Status: string(c.Status), Operation: "reserve slot for"}
	}

	key := counterKey(req.OwnerID, req.Date)
	counter, ok := m.counters[key]
	if !ok {
		counter = &model.SendingScheduleCounter{
			OwnerID:   req.OwnerID,
			SendDate:  model.DateOnly(req.Date),
			DailyCap:  req.DailyCap,
			StartHour: req.StartHour,
			EndHour:   req.EndHour,
		}
		m.counters[key] = counter
	}
	if counter.ScheduledCount >= counter.DailyCap {
		return model.Slot{}, nil
	}
	counter.ScheduledCount++
	counter.UpdatedAt = time.Now()
	return model.Slot{
		Reserved:      true,
		Count:         counter.ScheduledCount,
		ScheduledTime: model.SlotTime(req.Date, counter.ScheduledCount, counter.DailyCap, counter.StartHour, counter.EndHour),
	}, nil
}

func (m *MemoryStore) GetCounter(_ context.Context, ownerID string, date time.Time) (*model.SendingScheduleCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[counterKey(ownerID, date)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListOverCapCounters(_ context.Context) ([]*model.SendingScheduleCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.SendingScheduleCounter{}
	for _, c := range m.counters {
		if c.ScheduledCount > c.DailyCap {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PutCounter overwrites a counter row. Used to seed fixtures.
func (m *MemoryStore) PutCounter(c model.SendingScheduleCounter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[counterKey(c.OwnerID, c.SendDate)] = &c
}

// ====================== Responses ======================

func responseKey(fromAddress, campaignID string) string {
	return strings.ToLower(fromAddress) + "|" + campaignID
}

func (m *MemoryStore) FindResponseRecord(_ context.Context, fromAddress, campaignID string) (*model.ResponseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.responses[responseKey(fromAddress, campaignID)]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) InsertResponseRecord(_ context.Context, rec *model.ResponseRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := responseKey(rec.FromAddress, rec.CampaignID)
	if _, exists := m.responses[key]; exists {
		return false, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now()
	cp := *rec
	m.responses[key] = &cp
	return true, nil
}

func (m *MemoryStore) MarkResponseProcessed(_ context.Context, id string, cancelled int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.responses {
		if r.ID == id {
			r.Processed = true
			r.CancelledFollowUps = cancelled > 0
			r.CancelledCount = cancelled
		}
	}
	return nil
}

func (m *MemoryStore) AnnotateResponse(_ context.Context, id string, a model.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.responses {
		if r.ID == id {
			r.Sentiment = a.Sentiment
			r.Category = a.Category
			r.Summary = a.Summary
		}
	}
	return nil
}

func (m *MemoryStore) CountUnprocessedResponses(_ context.Context, receivedBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.responses {
		if !r.Processed && r.ReceivedAt.Before(receivedBefore) {
			n++
		}
	}
	return n, nil
}

// ====================== Dead letters ======================

func (m *MemoryStore) InsertDeadLetter(_ context.Context, d *model.DeadLetterEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.deadLetters {
		if existing.EmailTaskID == d.EmailTaskID {
			return nil
		}
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now()
	cp := *d
	m.deadLetters[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDeadLetterByTask(_ context.Context, taskID string) (*model.DeadLetterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deadLetters {
		if d.EmailTaskID == taskID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListDeadLetters(_ context.Context, f model.DeadLetterFilter) ([]*model.DeadLetterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.DeadLetterEntry{}
	for _, d := range m.deadLetters {
		if f.CampaignID != "" && d.CampaignID != f.CampaignID {
			continue
		}
		if d.Resolved && !f.IncludeResolved {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ResolveDeadLetter(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deadLetters[id]
	if !ok {
		return &appErrors.ErrDeadLetterNotFound{ID: id}
	}
	now := time.Now()
	d.Resolved = true
	d.ResolvedAt = &now
	return nil
}

// ====================== Audit ======================

func (m *MemoryStore) InsertAudit(_ context.Context, e *model.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cp := *e
	m.audit = append(m.audit, &cp)
	return nil
}

// AuditEntries returns the recorded audit log, oldest first.
func (m *MemoryStore) AuditEntries() []model.AuditLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AuditLogEntry, len(m.audit))
	for i, e := range m.audit {
		out[i] = *e
	}
	return out
}

func (m *MemoryStore) RecordAttempt(_ context.Context, a *model.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now()
	}
	cp := *a
	m.attempts = append(m.attempts, &cp)
	return nil
}

func (m *MemoryStore) RecentAttempts(_ context.Context, campaignID string, n int) ([]*model.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.DeliveryAttempt{}
	// newest first; insertion order breaks timestamp ties
	for i := len(m.attempts) - 1; i >= 0; i-- {
		a := m.attempts[i]
		if a.CampaignID == campaignID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptedAt.After(out[j].AttemptedAt) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *MemoryStore) AttemptStats(_ context.Context, campaignID string, since time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total, failed := 0, 0
	for _, a := range m.attempts {
		if a.CampaignID != campaignID || a.AttemptedAt.Before(since) {
			continue
		}
		total++
		if !a.Success {
			failed++
		}
	}
	return total, failed, nil
}

func (m *MemoryStore) InsertViolation(_ context.Context, v *model.RateLimitViolation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	cp := *v
	m.violations = append(m.violations, &cp)
	return nil
}

func (m *MemoryStore) CountViolationsSince(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.violations {
		if !v.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// ====================== helpers ======================

func copyCampaign(c *model.Campaign) *model.Campaign {
	cp := *c
	cp.Stages = append([]model.TemplateStage(nil), c.Stages...)
	if c.UpdatedAt != nil {
		u := *c.UpdatedAt
		cp.UpdatedAt = &u
	}
	return &cp
}

func copyTask(t *model.EmailTask) *model.EmailTask {
	cp := *t
	if t.ParentTaskID != nil {
		p := *t.ParentTaskID
		cp.ParentTaskID = &p
	}
	if t.SentAt != nil {
		s := *t.SentAt
		cp.SentAt = &s
	}
	if t.SendingStartedAt != nil {
		s := *t.SendingStartedAt
		cp.SendingStartedAt = &s
	}
	return &cp
}

func isDelivered(t *model.EmailTask) bool {
	return t.Status == model.TaskSent || t.Status == model.TaskResponseReceived
}

func sentAt(t *model.EmailTask) time.Time {
	if t.SentAt != nil {
		return *t.SentAt
	}
	return time.Time{}
}

func sortTasks(tasks []*model.EmailTask, key func(*model.EmailTask) time.Time, desc bool) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := key(tasks[i]), key(tasks[j])
		if a.Equal(b) {
			return tasks[i].ID < tasks[j].ID
		}
		if desc {
			return a.After(b)
		}
		return a.Before(b)
	})
}

func firstTask(tasks []*model.EmailTask) *model.EmailTask {
	if len(tasks) == 0 {
		return nil
	}
	return tasks[0]
}
