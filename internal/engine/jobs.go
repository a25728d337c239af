package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vi13x/classbank/internal/domain"
	"github.com/vi13x/classbank/internal/metrics"
	"github.com/vi13x/classbank/internal/notify"
)

// UnknownUser stands in for the name of a deleted assignee.
const UnknownUser = "Unknown user"

type NewJob struct {
	Title       string            `validate:"min=3,max=100"`
	Description string            `validate:"max=500"`
	Salary      decimal.Decimal   `validate:"-"`
	Type        domain.JobType    `validate:"jobtype"`
	AssignedTo  *domain.AccountID `validate:"-"` // set to create the job occupied
}

// JobPatch edits the posting. Type and status are not reachable from here.
type JobPatch struct {
	Title       *string          `validate:"omitnil,min=3,max=100"`
	Description *string          `validate:"omitnil,max=500"`
	Salary      *decimal.Decimal `validate:"-"`
}

// JobState is the derived board state of a job.
type JobState string

const (
	StateOpen      JobState = "open"
	StateOccupied  JobState = "occupied"
	StateCompleted JobState = "completed"
)

func StateOf(j *domain.Job) JobState {
	switch {
	case j.IsCompleted():
		return StateCompleted
	case j.IsOccupied():
		return StateOccupied
	default:
		return StateOpen
	}
}

// JobFilter narrows ListJobs. The zero value matches every job.
type JobFilter struct {
	State      JobState
	AssignedTo domain.AccountID
}

func (f JobFilter) match(j *domain.Job) bool {
	if f.State != "" && StateOf(j) != f.State {
		return false
	}
	return f.AssignedTo == "" || j.AssignedToID() == f.AssignedTo
}

// JobListing is a job with its assignee's display name resolved.
type JobListing struct {
	*domain.Job
	AssignedToName string `json:"assignedToName,omitempty"`
}

type SalaryPayment struct {
	Transaction *domain.Transaction
	Job         *domain.Job
}

type FailedPayment struct {
	Job *domain.Job
	Err error
}

type PayrollResult struct {
	Successful []*SalaryPayment
	Failed     []FailedPayment
}

func (e *Engine) PostJob(ctx context.Context, p domain.Principal, in NewJob) (*domain.Job, error) {
	const op = "post_job"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := e.check(op, in); err != nil {
		return nil, err
	}
	if err := checkAmount(op, "salary", in.Salary); err != nil {
		return nil, err
	}

	var job *domain.Job
	err := e.write(ctx, op, p, func() error {
		u := e.begin(ctx, op)
		jobs, err := u.jobs()
		if err != nil {
			return err
		}
		now := e.now()
		job = &domain.Job{
			ID:          domain.JobID(e.newID("job")),
			Title:       in.Title,
			Description: in.Description,
			Salary:      in.Salary,
			Type:        in.Type,
			PostedBy:    p.ID,
			Status:      domain.JobActive,
			CreatedAt:   now,
		}
		if in.AssignedTo != nil {
			if _, err := u.student(*in.AssignedTo); err != nil {
				return err
			}
			job.AssignedTo = ptr(*in.AssignedTo)
			job.AssignedAt = ptr(now)
		}
		u.putJobs(append(jobs, job))
		u.emit(notify.JobCreated, fmt.Sprintf("job %q posted, salary %s", job.Title, domain.FormatMoney(job.Salary)), job)
		return u.commit()
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (e *Engine) UpdateJob(ctx context.Context, p domain.Principal, id domain.JobID, patch JobPatch) (*domain.Job, error) {
	const op = "update_job"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	patch.Title = trimPtr(patch.Title)
	patch.Description = trimPtr(patch.Description)
	if err := e.check(op, patch); err != nil {
		return nil, err
	}
	if patch.Salary != nil {
		if err := checkAmount(op, "salary", *patch.Salary); err != nil {
			return nil, err
		}
	}
	return e.changeJob(ctx, op, p, id, func(u *unit, job *domain.Job) error {
		if patch.Title != nil {
			job.Title = *patch.Title
		}
		if patch.Description != nil {
			job.Description = *patch.Description
		}
		if patch.Salary != nil {
			job.Salary = *patch.Salary
		}
		return nil
	})
}

// AssignDirect hires a student without an application.
func (e *Engine) AssignDirect(ctx context.Context, p domain.Principal, id domain.JobID, accountID domain.AccountID) (*domain.Job, error) {
	const op = "assign_direct"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	return e.changeJob(ctx, op, p, id, func(u *unit, job *domain.Job) error {
		if !job.IsOpen() {
			return fail(KindConflict, op, "job %q is not open", job.Title)
		}
		if _, err := u.student(accountID); err != nil {
			return err
		}
		job.AssignedTo = ptr(accountID)
		job.AssignedAt = ptr(e.now())
		return nil
	})
}

// EndJob closes an occupied job without paying it.
func (e *Engine) EndJob(ctx context.Context, p domain.Principal, id domain.JobID) (*domain.Job, error) {
	const op = "end_job"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	return e.changeJob(ctx, op, p, id, func(u *unit, job *domain.Job) error {
		if !job.IsOccupied() {
			return fail(KindConflict, op, "job %q is not occupied", job.Title)
		}
		job.Status = domain.JobCompleted
		job.CompletedAt = ptr(e.now())
		return nil
	})
}

// Republish puts a completed job back on the board as a fresh open posting.
func (e *Engine) Republish(ctx context.Context, p domain.Principal, id domain.JobID) (*domain.Job, error) {
	const op = "republish"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	return e.changeJob(ctx, op, p, id, func(u *unit, job *domain.Job) error {
		if !job.IsCompleted() {
			return fail(KindConflict, op, "job %q is not completed", job.Title)
		}
		job.Status = domain.JobActive
		job.AssignedTo = nil
		job.AssignedAt = nil
		job.CompletedAt = nil
		job.LastPaymentAt = nil
		return nil
	})
}

// changeJob applies fn to one job and commits the job list.
func (e *Engine) changeJob(ctx context.Context, op string, p domain.Principal, id domain.JobID, fn func(u *unit, job *domain.Job) error) (*domain.Job, error) {
	var job *domain.Job
	err := e.write(ctx, op, p, func() error {
		u := e.begin(ctx, op)
		jobs, err := u.jobs()
		if err != nil {
			return err
		}
		if job = findJob(jobs, id); job == nil {
			return fail(KindNotFound, op, "job %s not found", id)
		}
		if err := fn(u, job); err != nil {
			return err
		}
		job.UpdatedAt = ptr(e.now())
		u.putJobs(jobs)
		u.emit(notify.JobUpdated, fmt.Sprintf("job %q is %s", job.Title, StateOf(job)), job)
		return u.commit()
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// DeleteJob removes the job and all of its applications in one unit.
func (e *Engine) DeleteJob(ctx context.Context, p domain.Principal, id domain.JobID) error {
	const op = "delete_job"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return err
	}
	return e.write(ctx, op, p, func() error {
		u := e.begin(ctx, op)
		jobs, err := u.jobs()
		if err != nil {
			return err
		}
		job := findJob(jobs, id)
		if job == nil {
			return fail(KindNotFound, op, "job %s not found", id)
		}
		apps, err := u.applications()
		if err != nil {
			return err
		}
		keptJobs := jobs[:0:0]
		for _, j := range jobs {
			if j.ID != id {
				keptJobs = append(keptJobs, j)
			}
		}
		keptApps := apps[:0:0]
		for _, a := range apps {
			if a.JobID != id {
				keptApps = append(keptApps, a)
			}
		}
		u.putJobs(keptJobs)
		if len(keptApps) != len(apps) {
			u.putApplications(keptApps)
		}
		u.emit(notify.JobDeleted, fmt.Sprintf("job %q deleted with %d applications", job.Title, len(apps)-len(keptApps)), job)
		return u.commit()
	})
}

// PaySalary pays the assignee from the bank. A project job completes with its
// payment; a fixed job stays occupied. Payment and job update commit together.
func (e *Engine) PaySalary(ctx context.Context, p domain.Principal, id domain.JobID) (*SalaryPayment, error) {
	const op = "pay_salary"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	var pay *SalaryPayment
	err := e.write(ctx, op, p, func() error {
		var err error
		pay, err = e.paySalary(ctx, op, p, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pay, nil
}

// PaySalaryAll pays every occupied job, oldest first. Failures are collected
// per job and never abort the run.
func (e *Engine) PaySalaryAll(ctx context.Context, p domain.Principal) (*PayrollResult, error) {
	const op = "pay_salary_all"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	res := &PayrollResult{}
	err := e.write(ctx, op, p, func() error {
		jobs, err := e.begin(ctx, op).jobs()
		if err != nil {
			return err
		}
		var occupied []*domain.Job
		for _, j := range jobs {
			if j.IsOccupied() {
				occupied = append(occupied, j)
			}
		}
		sort.SliceStable(occupied, func(i, k int) bool { return occupied[i].CreatedAt.Before(occupied[k].CreatedAt) })

		for _, job := range occupied {
			pay, err := e.paySalary(ctx, op, p, job.ID)
			if err != nil {
				e.log.WithField("op", op).WithField("job", job.ID).WithError(err).Warn("salary not paid")
				res.Failed = append(res.Failed, FailedPayment{Job: job, Err: err})
				continue
			}
			res.Successful = append(res.Successful, pay)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// paySalary runs under the write lock.
func (e *Engine) paySalary(ctx context.Context, op string, p domain.Principal, id domain.JobID) (*SalaryPayment, error) {
	u := e.begin(ctx, op)
	jobs, err := u.jobs()
	if err != nil {
		return nil, err
	}
	job := findJob(jobs, id)
	if job == nil {
		return nil, fail(KindNotFound, op, "job %s not found", id)
	}
	if !job.IsOccupied() {
		return nil, fail(KindConflict, op, "job %q is not occupied", job.Title)
	}
	bank, err := u.actor(p)
	if err != nil {
		return nil, err
	}
	accts, err := u.accounts()
	if err != nil {
		return nil, err
	}
	assignee := findAccount(accts, *job.AssignedTo)
	if assignee == nil {
		return nil, fail(KindNotFound, op, "assignee %s not found", *job.AssignedTo)
	}
	if assignee.ID == bank.ID {
		return nil, fail(KindSelfTransfer, op, "bank cannot pay itself")
	}
	tx, err := u.move(bank, assignee, job.Salary, "Salary for: "+job.Title)
	if err != nil {
		return nil, err
	}

	now := e.now()
	job.LastPaymentAt = ptr(now)
	job.UpdatedAt = ptr(now)
	if job.Type == domain.JobProject {
		job.Status = domain.JobCompleted
		job.CompletedAt = ptr(now)
	}
	u.putJobs(jobs)
	u.emit(notify.JobUpdated, fmt.Sprintf("salary for %q paid to %s", job.Title, assignee.DisplayName), job)
	if err := u.commit(); err != nil {
		return nil, err
	}
	metrics.RecordMoneyMoved("salary", job.Salary)
	return &SalaryPayment{Transaction: tx, Job: job}, nil
}

// ListJobs returns matching jobs with assignee names. Open jobs come newest
// first and completed jobs by completion time, newest first.
func (e *Engine) ListJobs(ctx context.Context, f JobFilter) ([]*JobListing, error) {
	var out []*JobListing
	err := e.read(ctx, "list_jobs", func(u *unit) error {
		jobs, err := u.jobs()
		if err != nil {
			return err
		}
		accts, err := u.accounts()
		if err != nil {
			return err
		}
		for _, j := range jobs {
			if !f.match(j) {
				continue
			}
			l := &JobListing{Job: j}
			if j.AssignedTo != nil {
				l.AssignedToName = UnknownUser
				if a := findAccount(accts, *j.AssignedTo); a != nil {
					l.AssignedToName = a.DisplayName
				}
			}
			out = append(out, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch f.State {
	case StateOpen:
		sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	case StateCompleted:
		sort.SliceStable(out, func(i, k int) bool { return completedAt(out[i].Job).After(completedAt(out[k].Job)) })
	}
	return out, nil
}

// MyActiveJobs lists the jobs the principal currently holds.
func (e *Engine) MyActiveJobs(ctx context.Context, p domain.Principal) ([]*JobListing, error) {
	return e.ListJobs(ctx, JobFilter{State: StateOccupied, AssignedTo: p.ID})
}

// MyJobHistory lists completed jobs last held by the principal.
func (e *Engine) MyJobHistory(ctx context.Context, p domain.Principal) ([]*JobListing, error) {
	return e.ListJobs(ctx, JobFilter{State: StateCompleted, AssignedTo: p.ID})
}

func (e *Engine) Job(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	var job *domain.Job
	err := e.read(ctx, "job", func(u *unit) error {
		jobs, err := u.jobs()
		if err != nil {
			return err
		}
		if job = findJob(jobs, id); job == nil {
			return fail(KindNotFound, "job", "job %s not found", id)
		}
		return nil
	})
	return job, err
}

// student resolves an account that must exist and be a student.
func (u *unit) student(id domain.AccountID) (*domain.Account, error) {
	accts, err := u.accounts()
	if err != nil {
		return nil, err
	}
	acct := findAccount(accts, id)
	if acct == nil {
		return nil, fail(KindNotFound, u.op, "account %s not found", id)
	}
	if acct.Role != domain.RoleStudent {
		return nil, fail(KindInvalidRole, u.op, "account %s is not a student", id)
	}
	return acct, nil
}

func findJob(jobs []*domain.Job, id domain.JobID) *domain.Job {
	for _, j := range jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

func completedAt(j *domain.Job) (t time.Time) {
	if j.CompletedAt != nil {
		t = *j.CompletedAt
	}
	return t
}
