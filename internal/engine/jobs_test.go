package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vi13x/classbank/internal/domain"
	"github.com/vi13x/classbank/internal/notify"
	"github.com/vi13x/classbank/internal/storage"
)

func (f *fixture) postJob(t *testing.T, title string, typ domain.JobType, salary string) *domain.Job {
	t.Helper()
	job, err := f.eng.PostJob(context.Background(), f.bank, NewJob{Title: title, Salary: dec(salary), Type: typ})
	require.NoError(t, err)
	return job
}

func TestPostJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.eng.PostJob(ctx, f.bank, NewJob{Title: "  Librarian ", Description: " sort books ", Salary: dec("75.5"), Type: domain.JobFixed})
	require.NoError(t, err)
	assert.Equal(t, "Librarian", job.Title)
	assert.Equal(t, "sort books", job.Description)
	assert.Equal(t, f.bank.ID, job.PostedBy)
	assert.Equal(t, StateOpen, StateOf(job))
	assert.Nil(t, job.AssignedAt)

	occupied, err := f.eng.PostJob(ctx, f.bank, NewJob{Title: "Cashier", Salary: dec("50"), Type: domain.JobFixed, AssignedTo: &f.kari.ID})
	require.NoError(t, err)
	assert.Equal(t, StateOccupied, StateOf(occupied))
	assert.NotNil(t, occupied.AssignedAt)
	assert.Equal(t, []notify.EventType{notify.JobCreated, notify.JobCreated}, f.events.types())
}

func TestPostJobRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   NewJob
		kind Kind
	}{
		{"short title", NewJob{Title: "ab", Salary: dec("1"), Type: domain.JobFixed}, KindValidation},
		{"long title", NewJob{Title: strings.Repeat("x", 101), Salary: dec("1"), Type: domain.JobFixed}, KindValidation},
		{"long description", NewJob{Title: "Cleaner", Description: strings.Repeat("x", 501), Salary: dec("1"), Type: domain.JobFixed}, KindValidation},
		{"bad type", NewJob{Title: "Cleaner", Salary: dec("1"), Type: "hourly"}, KindValidation},
		{"zero salary", NewJob{Title: "Cleaner", Salary: dec("0"), Type: domain.JobFixed}, KindAmountFormat},
		{"precise salary", NewJob{Title: "Cleaner", Salary: dec("0.125"), Type: domain.JobFixed}, KindAmountFormat},
		{"assign teacher", NewJob{Title: "Cleaner", Salary: dec("1"), Type: domain.JobFixed, AssignedTo: &f.bank.ID}, KindInvalidRole},
		{"assign ghost", NewJob{Title: "Cleaner", Salary: dec("1"), Type: domain.JobFixed, AssignedTo: ptr(domain.AccountID("acc_ghost"))}, KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.eng.PostJob(ctx, f.bank, tc.in)
			requireKind(t, err, tc.kind)
		})
	}
	_, err := f.eng.PostJob(ctx, f.kari, NewJob{Title: "Cleaner", Salary: dec("1"), Type: domain.JobFixed})
	requireKind(t, err, KindInvalidRole)
}

func TestUpdateJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.postJob(t, "Cleaner", domain.JobProject, "40")

	updated, err := f.eng.UpdateJob(ctx, f.bank, job.ID, JobPatch{Title: ptr("Head cleaner"), Salary: ptr(dec("45"))})
	require.NoError(t, err)
	assert.Equal(t, "Head cleaner", updated.Title)
	assert.True(t, dec("45").Equal(updated.Salary))
	assert.Equal(t, domain.JobProject, updated.Type)
	assert.NotNil(t, updated.UpdatedAt)

	_, err = f.eng.UpdateJob(ctx, f.bank, job.ID, JobPatch{Title: ptr("x")})
	requireKind(t, err, KindValidation)
	_, err = f.eng.UpdateJob(ctx, f.bank, job.ID, JobPatch{Salary: ptr(dec("-1"))})
	requireKind(t, err, KindAmountFormat)
	_, err = f.eng.UpdateJob(ctx, f.bank, "job_missing", JobPatch{})
	requireKind(t, err, KindNotFound)
}

func TestAssignDirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.postJob(t, "Cleaner", domain.JobFixed, "40")

	_, err := f.eng.AssignDirect(ctx, f.bank, job.ID, f.bank.ID)
	requireKind(t, err, KindInvalidRole)
	_, err = f.eng.AssignDirect(ctx, f.bank, job.ID, "acc_ghost")
	requireKind(t, err, KindNotFound)

	assigned, err := f.eng.AssignDirect(ctx, f.bank, job.ID, f.kari.ID)
	require.NoError(t, err)
	assert.Equal(t, f.kari.ID, assigned.AssignedToID())

	_, err = f.eng.AssignDirect(ctx, f.bank, job.ID, f.ola.ID)
	requireKind(t, err, KindConflict)
	_, err = f.eng.AssignDirect(ctx, f.bank, "job_missing", f.ola.ID)
	requireKind(t, err, KindNotFound)
}

func TestPaySalaryProjectCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.postJob(t, "Poster design", domain.JobProject, "200")
	_, err := f.eng.AssignDirect(ctx, f.bank, job.ID, f.kari.ID)
	require.NoError(t, err)

	pay, err := f.eng.PaySalary(ctx, f.bank, job.ID)
	require.NoError(t, err)
	assert.True(t, dec("1200").Equal(f.balance(t, f.kari)))
	assert.Equal(t, StateCompleted, StateOf(pay.Job))
	assert.NotNil(t, pay.Job.CompletedAt)
	assert.NotNil(t, pay.Job.LastPaymentAt)
	assert.Equal(t, f.kari.ID, pay.Job.AssignedToID(), "completed job keeps its assignee")
	assert.Equal(t, "Salary for: Poster design", pay.Transaction.Message)
	assert.True(t, f.balance(t, f.bank).IsZero())

	_, err = f.eng.PaySalary(ctx, f.bank, job.ID)
	requireKind(t, err, KindConflict)
	assert.True(t, dec("1200").Equal(f.balance(t, f.kari)))
}

func TestPaySalaryFixedRepeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.postJob(t, "Librarian", domain.JobFixed, "30")
	_, err := f.eng.AssignDirect(ctx, f.bank, job.ID, f.ola.ID)
	require.NoError(t, err)

	first, err := f.eng.PaySalary(ctx, f.bank, job.ID)
	require.NoError(t, err)
	second, err := f.eng.PaySalary(ctx, f.bank, job.ID)
	require.NoError(t, err)

	assert.Equal(t, StateOccupied, StateOf(second.Job))
	assert.True(t, second.Job.LastPaymentAt.After(*first.Job.LastPaymentAt))
	assert.True(t, dec("1060").Equal(f.balance(t, f.ola)))
}

func TestPaySalaryRequiresOccupied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.postJob(t, "Librarian", domain.JobFixed, "30")

	_, err := f.eng.PaySalary(ctx, f.bank, job.ID)
	requireKind(t, err, KindConflict)
	_, err = f.eng.PaySalary(ctx, f.bank, "job_missing")
	requireKind(t, err, KindNotFound)
	_, err = f.eng.PaySalary(ctx, f.kari, job.ID)
	requireKind(t, err, KindInvalidRole)
}

func TestPaySalaryRollsBackPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.postJob(t, "Poster design", domain.JobProject, "200")
	_, err := f.eng.AssignDirect(ctx, f.bank, job.ID, f.kari.ID)
	require.NoError(t, err)

	// users and transactions are written before jobs; transactions did not
	// exist yet, so rollback has to delete it again
	f.kv.failNextSave(storage.KeyJobs)
	_, err = f.eng.PaySalary(ctx, f.bank, job.ID)
	requireKind(t, err, KindStorage)

	assert.True(t, dec("1000").Equal(f.balance(t, f.kari)))
	_, err = f.kv.Load(ctx, storage.KeyTransactions)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	reloaded, err := f.eng.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateOccupied, StateOf(reloaded))

	_, err = f.eng.PaySalary(ctx, f.bank, job.ID)
	assert.NoError(t, err, "the job can still be paid after a failed attempt")
}

func TestPaySalaryAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	emma := f.newStudent(t, "Emma", "emma789")

	older := f.postJob(t, "Librarian", domain.JobFixed, "30")
	newer := f.postJob(t, "Poster design", domain.JobProject, "200")
	ghost := f.postJob(t, "Gardener", domain.JobFixed, "10")
	f.postJob(t, "Unassigned", domain.JobFixed, "99")
	for job, who := range map[domain.JobID]domain.AccountID{older.ID: f.kari.ID, newer.ID: f.ola.ID, ghost.ID: emma.ID} {
		_, err := f.eng.AssignDirect(ctx, f.bank, job, who)
		require.NoError(t, err)
	}
	require.NoError(t, f.eng.DeleteAccount(ctx, f.bank, emma.ID))

	res, err := f.eng.PaySalaryAll(ctx, f.bank)
	require.NoError(t, err)
	require.Len(t, res.Successful, 2)
	assert.Equal(t, older.ID, res.Successful[0].Job.ID)
	assert.Equal(t, newer.ID, res.Successful[1].Job.ID)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, ghost.ID, res.Failed[0].Job.ID)
	assert.ErrorIs(t, res.Failed[0].Err, ErrNotFound)

	assert.True(t, dec("1030").Equal(f.balance(t, f.kari)))
	assert.True(t, dec("1200").Equal(f.balance(t, f.ola)))

	_, err = f.eng.PaySalaryAll(ctx, f.kari)
	requireKind(t, err, KindInvalidRole)
}

func TestEndJobAndRepublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.postJob(t, "Librarian", domain.JobFixed, "30")

	_, err := f.eng.EndJob(ctx, f.bank, job.ID)
	requireKind(t, err, KindConflict)
	_, err = f.eng.Republish(ctx, f.bank, job.ID)
	requireKind(t, err, KindConflict)

	_, err = f.eng.AssignDirect(ctx, f.bank, job.ID, f.kari.ID)
	require.NoError(t, err)
	_, err = f.eng.PaySalary(ctx, f.bank, job.ID)
	require.NoError(t, err)
	ended, err := f.eng.EndJob(ctx, f.bank, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, StateOf(ended))
	assert.NotNil(t, ended.CompletedAt)
	assert.True(t, dec("1030").Equal(f.balance(t, f.kari)), "ending does not pay")

	reopened, err := f.eng.Republish(ctx, f.bank, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, StateOf(reopened))
	assert.Nil(t, reopened.AssignedTo)
	assert.Nil(t, reopened.AssignedAt)
	assert.Nil(t, reopened.CompletedAt)
	assert.Nil(t, reopened.LastPaymentAt)

	// behaves like a fresh posting
	app, err := f.eng.Apply(ctx, f.ola, job.ID, "I would love to do this")
	require.NoError(t, err)
	accepted, _, err := f.eng.Accept(ctx, f.bank, app.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ola.ID, accepted.AssignedToID())
}

func TestDeleteJobCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.postJob(t, "Librarian", domain.JobFixed, "30")
	other := f.postJob(t, "Cleaner", domain.JobFixed, "30")

	_, err := f.eng.Apply(ctx, f.kari, job.ID, "Please pick me for this")
	require.NoError(t, err)
	_, err = f.eng.Apply(ctx, f.ola, job.ID, "I am the best choice here")
	require.NoError(t, err)
	keep, err := f.eng.Apply(ctx, f.ola, other.ID, "I can clean really well")
	require.NoError(t, err)

	require.NoError(t, f.eng.DeleteJob(ctx, f.bank, job.ID))
	_, err = f.eng.Job(ctx, job.ID)
	requireKind(t, err, KindNotFound)

	mine, err := f.eng.MyApplications(ctx, f.ola)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, keep.ID, mine[0].ID)
	mine, err = f.eng.MyApplications(ctx, f.kari)
	require.NoError(t, err)
	assert.Empty(t, mine)

	requireKind(t, f.eng.DeleteJob(ctx, f.bank, job.ID), KindNotFound)
}

func TestDeleteJobRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.postJob(t, "Librarian", domain.JobFixed, "30")
	app, err := f.eng.Apply(ctx, f.kari, job.ID, "Please pick me for this")
	require.NoError(t, err)

	f.kv.failNextSave(storage.KeyApplications)
	requireKind(t, f.eng.DeleteJob(ctx, f.bank, job.ID), KindStorage)

	_, err = f.eng.Job(ctx, job.ID)
	require.NoError(t, err, "job is restored when its applications could not be removed")
	list, err := f.eng.ApplicationsForJob(ctx, f.bank, job.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, app.ID, list[0].ID)
}

func TestListJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.postJob(t, "Librarian", domain.JobFixed, "30")
	second := f.postJob(t, "Cleaner", domain.JobFixed, "30")
	held := f.postJob(t, "Cashier", domain.JobFixed, "30")
	done := f.postJob(t, "Poster design", domain.JobProject, "30")

	_, err := f.eng.AssignDirect(ctx, f.bank, held.ID, f.kari.ID)
	require.NoError(t, err)
	_, err = f.eng.AssignDirect(ctx, f.bank, done.ID, f.ola.ID)
	require.NoError(t, err)
	_, err = f.eng.PaySalary(ctx, f.bank, done.ID)
	require.NoError(t, err)
	require.NoError(t, f.eng.DeleteAccount(ctx, f.bank, f.ola.ID))

	all, err := f.eng.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	open, err := f.eng.ListJobs(ctx, JobFilter{State: StateOpen})
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, second.ID, open[0].ID, "newest open job first")
	assert.Equal(t, first.ID, open[1].ID)

	active, err := f.eng.MyActiveJobs(ctx, f.kari)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Kari", active[0].AssignedToName)

	history, err := f.eng.MyJobHistory(ctx, f.ola)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, UnknownUser, history[0].AssignedToName)
}
