package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/flock-dev/flock/internal/database"
	"github.com/flock-dev/flock/internal/followups"
	"github.com/flock-dev/flock/internal/models"
	"github.com/flock-dev/flock/internal/notify"
	"github.com/flock-dev/flock/internal/people"
	"github.com/flock-dev/flock/internal/tasks"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type countingSender struct{ n int }

func (c *countingSender) Send(ctx context.Context, msg notify.Message) error {
	c.n++
	return nil
}

func setup(t *testing.T) (*gorm.DB, *followups.Service, *models.FollowUp) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	ministry := &models.Ministry{Name: "Hope House", Slug: "hope-house", SMSQuota: 5}
	require.NoError(t, db.Create(ministry).Error)

	ps := people.NewService(db, zerolog.Nop())
	guest, err := ps.Create(context.Background(), people.Guests, ministry.ID, people.Input{FirstName: "Dorcas", Email: "dorcas@example.com"})
	require.NoError(t, err)

	svc := followups.NewService(db, ps, zerolog.Nop())
	fu, err := svc.Schedule(context.Background(), ministry.ID, followups.ScheduleInput{
		PersonKind: string(people.Guests),
		PersonID:   guest.GetID(),
		DueAt:      time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	return db, svc, fu
}

func TestEnqueueDueReminders(t *testing.T) {
	_, svc, fu := setup(t)
	ctx := context.Background()
	q := &fakeEnqueuer{}

	n := EnqueueDueReminders(ctx, q, svc, time.Now(), zerolog.Nop())
	assert.Equal(t, 1, n)
	require.Len(t, q.tasks, 1)

	payload, err := tasks.ParseTaskPayload(q.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, fu.ID, payload.FollowUpID)

	// Claimed follow-ups are not queued twice
	n = EnqueueDueReminders(ctx, q, svc, time.Now(), zerolog.Nop())
	assert.Equal(t, 0, n)
	assert.Len(t, q.tasks, 1)
}

func TestEnqueueDueReminders_ReleasesOnFailure(t *testing.T) {
	_, svc, fu := setup(t)
	ctx := context.Background()

	n := EnqueueDueReminders(ctx, &fakeEnqueuer{err: errors.New("redis down")}, svc, time.Now(), zerolog.Nop())
	assert.Equal(t, 0, n)

	reloaded, err := svc.Get(ctx, followups.Scope{}, fu.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FollowUpPending, reloaded.Status)
}

func TestEnqueueDueReminders_RequeuesLostTask(t *testing.T) {
	_, svc, fu := setup(t)
	ctx := context.Background()
	now := time.Now()

	// Claimed by a scan whose task never ran
	claimed, err := svc.Claim(ctx, fu.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, claimed)

	q := &fakeEnqueuer{}
	assert.Equal(t, 1, EnqueueDueReminders(ctx, q, svc, now, zerolog.Nop()))
	require.Len(t, q.tasks, 1)

	payload, err := tasks.ParseTaskPayload(q.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, fu.ID, payload.FollowUpID)

	reloaded, err := svc.Get(ctx, followups.Scope{}, fu.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FollowUpQueued, reloaded.Status)
	require.NotNil(t, reloaded.QueuedAt)
	assert.WithinDuration(t, now, *reloaded.QueuedAt, time.Second)
}

func TestEnqueueDueReminders_KeepsRecentClaims(t *testing.T) {
	_, svc, fu := setup(t)
	ctx := context.Background()
	now := time.Now()

	claimed, err := svc.Claim(ctx, fu.ID, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	q := &fakeEnqueuer{}
	assert.Equal(t, 0, EnqueueDueReminders(ctx, q, svc, now, zerolog.Nop()))
	assert.Empty(t, q.tasks)
}

func TestEnqueueDueReminders_NothingDue(t *testing.T) {
	_, svc, _ := setup(t)
	q := &fakeEnqueuer{}
	n := EnqueueDueReminders(context.Background(), q, svc, time.Now().Add(-time.Hour), zerolog.Nop())
	assert.Equal(t, 0, n)
	assert.Empty(t, q.tasks)
}

func TestHandleSendReminder(t *testing.T) {
	_, svc, fu := setup(t)
	ctx := context.Background()
	q := &fakeEnqueuer{}
	require.Equal(t, 1, EnqueueDueReminders(ctx, q, svc, time.Now(), zerolog.Nop()))

	sender := &countingSender{}
	require.NoError(t, HandleSendReminder(ctx, q.tasks[0], svc, sender, zerolog.Nop()))
	assert.Equal(t, 1, sender.n)

	reloaded, err := svc.Get(ctx, followups.Scope{}, fu.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FollowUpSent, reloaded.Status)
}

func TestHandleSendReminder_BadPayload(t *testing.T) {
	_, svc, _ := setup(t)
	err := HandleSendReminder(context.Background(), asynq.NewTask(tasks.TypeSendReminder, []byte("{")), svc, &countingSender{}, zerolog.Nop())
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestStartReminderScheduler_StopsOnCancel(t *testing.T) {
	_, svc, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	q := &fakeEnqueuer{}

	done := make(chan struct{})
	go func() {
		StartReminderScheduler(ctx, q, svc, time.Hour, zerolog.Nop())
		close(done)
	}()

	// The first scan runs before the first tick
	require.Eventually(t, func() bool { return q.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
