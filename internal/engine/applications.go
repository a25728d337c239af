package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vi13x/classbank/internal/domain"
	"github.com/vi13x/classbank/internal/notify"
)

type applicationText struct {
	Text string `validate:"min=10,max=500"`
}

// PendingApplication pairs a pending application with the job it is for.
type PendingApplication struct {
	*domain.Application
	Job *domain.Job `json:"job"`
}

// Apply files the principal's application for an open job. A second call
// while the first is still pending edits that application in place.
func (e *Engine) Apply(ctx context.Context, p domain.Principal, jobID domain.JobID, text string) (*domain.Application, error) {
	const op = "apply"
	if err := requireRole(op, p, domain.RoleStudent); err != nil {
		return nil, err
	}
	in := applicationText{Text: strings.TrimSpace(text)}
	if err := e.check(op, in); err != nil {
		return nil, err
	}

	var app *domain.Application
	err := e.write(ctx, op, p, func() error {
		u := e.begin(ctx, op)
		applicant, err := u.actor(p)
		if err != nil {
			return err
		}
		jobs, err := u.jobs()
		if err != nil {
			return err
		}
		job := findJob(jobs, jobID)
		if job == nil {
			return fail(KindNotFound, op, "job %s not found", jobID)
		}
		if !job.IsOpen() {
			return fail(KindConflict, op, "job %q is no longer open", job.Title)
		}
		apps, err := u.applications()
		if err != nil {
			return err
		}
		now := e.now()
		if app = pendingFor(apps, jobID, p.ID); app != nil {
			app.Text = in.Text
			app.UpdatedAt = ptr(now)
			u.putApplications(apps)
			u.emit(notify.ApplicationUpdated, fmt.Sprintf("%s edited the application for %q", applicant.DisplayName, job.Title), app)
			return u.commit()
		}
		app = &domain.Application{
			ID:            domain.ApplicationID(e.newID("app")),
			JobID:         jobID,
			ApplicantID:   applicant.ID,
			ApplicantName: applicant.DisplayName,
			Text:          in.Text,
			Status:        domain.ApplicationPending,
			CreatedAt:     now,
		}
		u.putApplications(append(apps, app))
		u.emit(notify.ApplicationCreated, fmt.Sprintf("%s applied for %q", applicant.DisplayName, job.Title), app)
		return u.commit()
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// ApplicationsForJob lists every application for the job, oldest first.
func (e *Engine) ApplicationsForJob(ctx context.Context, p domain.Principal, jobID domain.JobID) ([]*domain.Application, error) {
	const op = "applications_for_job"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	var out []*domain.Application
	err := e.read(ctx, op, func(u *unit) error {
		jobs, err := u.jobs()
		if err != nil {
			return err
		}
		if findJob(jobs, jobID) == nil {
			return fail(KindNotFound, op, "job %s not found", jobID)
		}
		apps, err := u.applications()
		if err != nil {
			return err
		}
		for _, a := range apps {
			if a.JobID == jobID {
				out = append(out, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

// Accept hires the applicant: the job becomes occupied, the application is
// accepted and every other pending application for the job is rejected, all
// in one unit. If the job is no longer open nothing changes.
func (e *Engine) Accept(ctx context.Context, p domain.Principal, id domain.ApplicationID) (*domain.Job, *domain.Application, error) {
	const op = "accept"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, nil, err
	}
	var (
		job *domain.Job
		app *domain.Application
	)
	err := e.write(ctx, op, p, func() error {
		u := e.begin(ctx, op)
		apps, err := u.applications()
		if err != nil {
			return err
		}
		if app = findApplication(apps, id); app == nil {
			return fail(KindNotFound, op, "application %s not found", id)
		}
		if !app.IsPending() {
			return fail(KindConflict, op, "application is already %s", app.Status)
		}
		jobs, err := u.jobs()
		if err != nil {
			return err
		}
		if job = findJob(jobs, app.JobID); job == nil {
			return fail(KindNotFound, op, "job %s not found", app.JobID)
		}
		if !job.IsOpen() {
			return fail(KindConflict, op, "job %q is not open", job.Title)
		}
		applicant, err := u.student(app.ApplicantID)
		if err != nil {
			return err
		}

		now := e.now()
		job.AssignedTo = ptr(app.ApplicantID)
		job.AssignedAt = ptr(now)
		job.UpdatedAt = ptr(now)
		app.Status = domain.ApplicationAccepted
		app.UpdatedAt = ptr(now)
		rejected := 0
		for _, other := range apps {
			if other.JobID == job.ID && other.ID != app.ID && other.IsPending() {
				other.Status = domain.ApplicationRejected
				other.UpdatedAt = ptr(now)
				rejected++
				u.emit(notify.ApplicationUpdated, fmt.Sprintf("application from %s for %q rejected", other.ApplicantName, job.Title), other)
			}
		}
		u.putJobs(jobs)
		u.putApplications(apps)
		u.emit(notify.JobUpdated, fmt.Sprintf("job %q assigned to %s", job.Title, applicant.DisplayName), job)
		u.emit(notify.ApplicationUpdated, fmt.Sprintf("application from %s for %q accepted", applicant.DisplayName, job.Title), app)
		e.log.WithField("op", op).WithField("job", job.ID).WithField("rejected", rejected).Debug("siblings rejected")
		return u.commit()
	})
	if err != nil {
		return nil, nil, err
	}
	return job, app, nil
}

// Reject turns down a pending application. The job is untouched.
func (e *Engine) Reject(ctx context.Context, p domain.Principal, id domain.ApplicationID) (*domain.Application, error) {
	const op = "reject"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	var app *domain.Application
	err := e.write(ctx, op, p, func() error {
		u := e.begin(ctx, op)
		apps, err := u.applications()
		if err != nil {
			return err
		}
		if app = findApplication(apps, id); app == nil {
			return fail(KindNotFound, op, "application %s not found", id)
		}
		if !app.IsPending() {
			return fail(KindConflict, op, "application is already %s", app.Status)
		}
		app.Status = domain.ApplicationRejected
		app.UpdatedAt = ptr(e.now())
		u.putApplications(apps)
		u.emit(notify.ApplicationUpdated, fmt.Sprintf("application from %s rejected", app.ApplicantName), app)
		return u.commit()
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// PendingApplications lists pending applications with their jobs, oldest
// first. Applications whose job is gone are left out.
func (e *Engine) PendingApplications(ctx context.Context, p domain.Principal) ([]*PendingApplication, error) {
	const op = "pending_applications"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	var out []*PendingApplication
	err := e.read(ctx, op, func(u *unit) error {
		apps, err := u.applications()
		if err != nil {
			return err
		}
		jobs, err := u.jobs()
		if err != nil {
			return err
		}
		for _, a := range apps {
			if !a.IsPending() {
				continue
			}
			if job := findJob(jobs, a.JobID); job != nil {
				out = append(out, &PendingApplication{Application: a, Job: job})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

// MyApplications lists the principal's applications, newest first.
func (e *Engine) MyApplications(ctx context.Context, p domain.Principal) ([]*domain.Application, error) {
	var out []*domain.Application
	err := e.read(ctx, "my_applications", func(u *unit) error {
		apps, err := u.applications()
		if err != nil {
			return err
		}
		for _, a := range apps {
			if a.ApplicantID == p.ID {
				out = append(out, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

// HasApplied reports whether the principal has a pending application for the job.
func (e *Engine) HasApplied(ctx context.Context, p domain.Principal, jobID domain.JobID) (bool, error) {
	var found bool
	err := e.read(ctx, "has_applied", func(u *unit) error {
		apps, err := u.applications()
		if err != nil {
			return err
		}
		found = pendingFor(apps, jobID, p.ID) != nil
		return nil
	})
	return found, err
}

func findApplication(apps []*domain.Application, id domain.ApplicationID) *domain.Application {
	for _, a := range apps {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func pendingFor(apps []*domain.Application, jobID domain.JobID, applicant domain.AccountID) *domain.Application {
	for _, a := range apps {
		if a.JobID == jobID && a.ApplicantID == applicant && a.IsPending() {
			return a
		}
	}
	return nil
}
