package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vi13x/classbank/internal/domain"
	"github.com/vi13x/classbank/internal/engine"
	"github.com/vi13x/classbank/internal/report"
	"github.com/vi13x/classbank/internal/storage"
)

func (ui *UI) HandleTeacher(ctx context.Context, acct *domain.Account) {
	p := acct.Principal()
	for !ui.eof {
		items := []string{
			"1) Students",
			"2) Create student",
			"3) Delete student",
			"4) Pay out from the bank",
			"5) Post job",
			"6) Job board",
			"7) Pay salary",
			"8) Pay all salaries",
			"9) End job",
			"10) Republish job",
			"11) Delete job",
			"12) Applications",
			"13) Settings",
			"14) Export statement (CSV)",
			"15) All transactions",
		}
		if ui.backups != nil {
			items = append(items, "16) Back up now", "17) List backups", "18) Restore backup")
		}
		items = append(items, "0) Log out")

		switch ui.menu("Teacher - "+acct.DisplayName, items...) {
		case "1":
			ui.listStudents(ctx, p)
		case "2":
			ui.createStudent(ctx, p)
		case "3":
			ui.deleteStudent(ctx, p)
		case "4":
			ui.grant(ctx, p)
		case "5":
			ui.postJob(ctx, p)
		case "6":
			ui.jobBoard(ctx)
		case "7":
			ui.paySalary(ctx, p)
		case "8":
			ui.payAll(ctx, p)
		case "9":
			ui.changeJob(ctx, engine.StateOccupied, "Job ended.", func(id domain.JobID) error {
				_, err := ui.eng.EndJob(ctx, p, id)
				return err
			})
		case "10":
			ui.changeJob(ctx, engine.StateCompleted, "Job is open again.", func(id domain.JobID) error {
				_, err := ui.eng.Republish(ctx, p, id)
				return err
			})
		case "11":
			ui.deleteJob(ctx, p)
		case "12":
			ui.reviewApplications(ctx, p)
		case "13":
			ui.editSettings(ctx, p)
		case "14":
			ui.exportStatement(ctx, p)
		case "15":
			ui.allTransactions(ctx, p)
		case "16":
			if ui.backups != nil {
				ui.backupNow(ctx, p)
			}
		case "17":
			if ui.backups != nil {
				ui.listBackups()
			}
		case "18":
			if ui.backups != nil {
				ui.restoreBackup(ctx, p)
			}
		default:
			return
		}
	}
}

// pickStudent lists students and asks for one by account number.
func (ui *UI) pickStudent(ctx context.Context, p domain.Principal) *domain.Account {
	if !ui.listStudents(ctx, p) {
		return nil
	}
	number := ui.prompt("Account number: ")
	if number == "" {
		return nil
	}
	acct, err := ui.eng.AccountByNumber(ctx, number)
	if err != nil {
		ui.fail(err)
		return nil
	}
	return acct
}

func (ui *UI) listStudents(ctx context.Context, p domain.Principal) bool {
	students, err := ui.eng.Students(ctx, p)
	if err != nil {
		ui.fail(err)
		return false
	}
	if len(students) == 0 {
		fmt.Fprintln(ui.out, "No students yet.")
		return false
	}
	sym := ui.currency(ctx)
	for _, s := range students {
		fmt.Fprintf(ui.out, "- %s  %-20s  %-12s  %s\n", s.AccountNumber, s.DisplayName, s.Username, money(s.Balance, sym))
	}
	if st, err := ui.eng.StudentStats(ctx, p); err == nil {
		fmt.Fprintf(ui.out, "Total %s, average %s, highest %s, lowest %s\n",
			money(st.Total, sym), money(st.Average, sym), money(st.Highest, sym), money(st.Lowest, sym))
	}
	return true
}

func (ui *UI) createStudent(ctx context.Context, p domain.Principal) {
	fmt.Fprintln(ui.out, "\n=== New student ===")
	next, err := ui.eng.NextAccountNumber(ctx)
	if err != nil {
		ui.fail(err)
		return
	}
	in := engine.NewAccount{
		DisplayName: ui.prompt("Full name: "),
		Username:    ui.prompt("Username: "),
		Password:    ui.readPassword("Password: "),
	}
	in.AccountNumber = ui.prompt(fmt.Sprintf("Account number (%s): ", next))
	acct, err := ui.eng.CreateAccount(ctx, p, in)
	if err != nil {
		ui.fail(err)
		return
	}
	fmt.Fprintf(ui.out, "Account %s opened for %s with %s.\n", acct.AccountNumber, acct.DisplayName, money(acct.Balance, ui.currency(ctx)))
}

func (ui *UI) deleteStudent(ctx context.Context, p domain.Principal) {
	acct := ui.pickStudent(ctx, p)
	if acct == nil || !ui.confirm("Delete "+acct.DisplayName+"?") {
		return
	}
	if err := ui.eng.DeleteAccount(ctx, p, acct.ID); err != nil {
		ui.fail(err)
		return
	}
	fmt.Fprintln(ui.out, "Student deleted. Their transactions are kept.")
}

func (ui *UI) grant(ctx context.Context, p domain.Principal) {
	if !ui.listStudents(ctx, p) {
		return
	}
	raw := ui.prompt("Account numbers, comma separated, or \"all\": ")
	if raw == "" {
		return
	}
	var ids []domain.AccountID
	if strings.EqualFold(raw, "all") {
		students, err := ui.eng.Students(ctx, p)
		if err != nil {
			ui.fail(err)
			return
		}
		for _, s := range students {
			ids = append(ids, s.ID)
		}
	} else {
		for _, number := range strings.Split(raw, ",") {
			acct, err := ui.eng.AccountByNumber(ctx, strings.TrimSpace(number))
			if err != nil {
				fmt.Fprintf(ui.out, "Skipping %s: %s\n", strings.TrimSpace(number), message(err))
				continue
			}
			ids = append(ids, acct.ID)
		}
	}
	amount, ok := ui.readAmount("Amount: ")
	if !ok {
		return
	}
	msg := ui.prompt("Message (" + engine.DefaultGrantMessage + "): ")
	res, err := ui.eng.Grant(ctx, p, ids, amount, msg)
	if err != nil {
		ui.fail(err)
		return
	}
	fmt.Fprintf(ui.out, "Paid %d student(s), skipped %d.\n", len(res.Succeeded), len(res.Skipped))
}

func (ui *UI) postJob(ctx context.Context, p domain.Principal) {
	fmt.Fprintln(ui.out, "\n=== New job ===")
	in := engine.NewJob{
		Title:       ui.prompt("Title: "),
		Description: ui.prompt("Description: "),
		Type:        domain.JobFixed,
	}
	if strings.HasPrefix(strings.ToLower(ui.prompt("Type, fixed or project (fixed): ")), "p") {
		in.Type = domain.JobProject
	}
	salary, ok := ui.readAmount("Salary: ")
	if !ok {
		return
	}
	in.Salary = salary
	if number := ui.prompt("Assign directly to account number (empty for open): "); number != "" {
		acct, err := ui.eng.AccountByNumber(ctx, number)
		if err != nil {
			ui.fail(err)
			return
		}
		in.AssignedTo = &acct.ID
	}
	job, err := ui.eng.PostJob(ctx, p, in)
	if err != nil {
		ui.fail(err)
		return
	}
	fmt.Fprintf(ui.out, "Job %q posted (%s).\n", job.Title, engine.StateOf(job))
}

func (ui *UI) jobBoard(ctx context.Context) {
	for _, state := range []engine.JobState{engine.StateOpen, engine.StateOccupied, engine.StateCompleted} {
		jobs, err := ui.eng.ListJobs(ctx, engine.JobFilter{State: state})
		if err != nil {
			ui.fail(err)
			return
		}
		fmt.Fprintf(ui.out, "\n%s (%d)\n", strings.ToUpper(string(state)), len(jobs))
		ui.printJobs(ctx, jobs)
	}
}

func (ui *UI) paySalary(ctx context.Context, p domain.Principal) {
	job := ui.pickJob(ctx, engine.JobFilter{State: engine.StateOccupied})
	if job == nil {
		return
	}
	pay, err := ui.eng.PaySalary(ctx, p, job.ID)
	if err != nil {
		ui.fail(err)
		return
	}
	fmt.Fprintf(ui.out, "Paid %s to %s.\n", money(pay.Transaction.Amount, ui.currency(ctx)), pay.Transaction.RecipientName)
	if pay.Job.IsCompleted() {
		fmt.Fprintln(ui.out, "The project is completed.")
	}
}

func (ui *UI) payAll(ctx context.Context, p domain.Principal) {
	res, err := ui.eng.PaySalaryAll(ctx, p)
	if err != nil {
		ui.fail(err)
		return
	}
	fmt.Fprintf(ui.out, "Paid %d salary(ies).\n", len(res.Successful))
	for _, f := range res.Failed {
		fmt.Fprintf(ui.out, "Failed %q: %s\n", f.Job.Title, message(f.Err))
	}
}

func (ui *UI) changeJob(ctx context.Context, state engine.JobState, done string, fn func(domain.JobID) error) {
	job := ui.pickJob(ctx, engine.JobFilter{State: state})
	if job == nil {
		return
	}
	if err := fn(job.ID); err != nil {
		ui.fail(err)
		return
	}
	fmt.Fprintln(ui.out, done)
}

func (ui *UI) deleteJob(ctx context.Context, p domain.Principal) {
	job := ui.pickJob(ctx, engine.JobFilter{})
	if job == nil || !ui.confirm("Delete "+job.Title+" and its applications?") {
		return
	}
	if err := ui.eng.DeleteJob(ctx, p, job.ID); err != nil {
		ui.fail(err)
		return
	}
	fmt.Fprintln(ui.out, "Job deleted.")
}

func (ui *UI) reviewApplications(ctx context.Context, p domain.Principal) {
	pending, err := ui.eng.PendingApplications(ctx, p)
	if err != nil {
		ui.fail(err)
		return
	}
	if len(pending) == 0 {
		fmt.Fprintln(ui.out, "No pending applications.")
		return
	}
	for i, a := range pending {
		fmt.Fprintf(ui.out, "%d) %s -> %s\n    %s\n", i+1, a.ApplicantName, a.Job.Title, a.Text)
	}
	i, ok := ui.readIndex("Application number: ", len(pending))
	if !ok {
		return
	}
	app := pending[i]
	switch strings.ToLower(ui.prompt("(a)ccept or (r)eject: ")) {
	case "a", "accept":
		job, _, err := ui.eng.Accept(ctx, p, app.ID)
		if err != nil {
			ui.fail(err)
			return
		}
		fmt.Fprintf(ui.out, "%s now holds %q.\n", app.ApplicantName, job.Title)
	case "r", "reject":
		if _, err := ui.eng.Reject(ctx, p, app.ID); err != nil {
			ui.fail(err)
			return
		}
		fmt.Fprintln(ui.out, "Application rejected.")
	}
}

func (ui *UI) editSettings(ctx context.Context, p domain.Principal) {
	cur, err := ui.eng.Settings(ctx)
	if err != nil {
		ui.fail(err)
		return
	}
	fmt.Fprintln(ui.out, "Leave a field empty to keep it.")
	var patch engine.SettingsPatch
	if v := ui.prompt(fmt.Sprintf("Class name (%s): ", cur.ClassName)); v != "" {
		patch.ClassName = &v
	}
	if v := ui.prompt(fmt.Sprintf("Currency name (%s): ", cur.CurrencyName)); v != "" {
		patch.CurrencyName = &v
	}
	if v := ui.prompt(fmt.Sprintf("Currency symbol (%s): ", cur.CurrencySymbol)); v != "" {
		patch.CurrencySymbol = &v
	}
	if d, ok := ui.readAmount(fmt.Sprintf("Starting balance (%s): ", domain.FormatMoney(cur.StartingBalance))); ok {
		patch.StartingBalance = &d
	}
	switch strings.ToLower(ui.prompt(fmt.Sprintf("Businesses enabled, y/n (%v): ", cur.EnableBusinesses))) {
	case "y", "yes":
		patch.EnableBusinesses = ptr(true)
	case "n", "no":
		patch.EnableBusinesses = ptr(false)
	}
	s, err := ui.eng.UpdateSettings(ctx, p, patch)
	if err != nil {
		ui.fail(err)
		return
	}
	fmt.Fprintf(ui.out, "Saved: %s, %s (%s), start %s.\n", s.ClassName, s.CurrencyName, s.CurrencySymbol, domain.FormatMoney(s.StartingBalance))
}

func (ui *UI) exportStatement(ctx context.Context, p domain.Principal) {
	acct := ui.pickStudent(ctx, p)
	if acct == nil {
		return
	}
	rng, ok := ui.readRange()
	if !ok {
		return
	}
	txs, err := ui.eng.History(ctx, acct.ID, 0)
	if err != nil {
		ui.fail(err)
		return
	}
	path, err := report.ExportStatement(ui.reportsDir, acct, txs, rng)
	if err != nil {
		ui.log.WithError(err).Error("statement export failed")
		fmt.Fprintln(ui.out, "Error:", err)
		return
	}
	fmt.Fprintln(ui.out, "Saved:", path)
}

// readRange asks for an optional date range; both empty means everything.
func (ui *UI) readRange() (report.Range, bool) {
	fromRaw := ui.prompt("From (YYYY-MM-DD, empty for all): ")
	toRaw := ui.prompt("To (YYYY-MM-DD, empty for today): ")
	if fromRaw == "" && toRaw == "" {
		return report.Range{}, true
	}
	from, err := time.ParseInLocation(time.DateOnly, fromRaw, time.Local)
	if err != nil && fromRaw != "" {
		fmt.Fprintln(ui.out, "Invalid date:", fromRaw)
		return report.Range{}, false
	}
	to := time.Now()
	if toRaw != "" {
		if to, err = time.ParseInLocation(time.DateOnly, toRaw, time.Local); err != nil {
			fmt.Fprintln(ui.out, "Invalid date:", toRaw)
			return report.Range{}, false
		}
	}
	y, m, d := to.Date()
	return report.Day(from, time.Date(y, m, d, 0, 0, 0, 0, time.Local)), true
}

func (ui *UI) allTransactions(ctx context.Context, p domain.Principal) {
	txs, err := ui.eng.AllTransactions(ctx, p, 20)
	if err != nil {
		ui.fail(err)
		return
	}
	if len(txs) == 0 {
		fmt.Fprintln(ui.out, "No transactions.")
		return
	}
	sym := ui.currency(ctx)
	for _, t := range txs {
		fmt.Fprintf(ui.out, "- %s  %s -> %s  %s  %s\n", t.Timestamp.Local().Format(time.DateTime), t.SenderName, t.RecipientName, money(t.Amount, sym), t.Message)
	}
}

func (ui *UI) backupNow(ctx context.Context, p domain.Principal) {
	name, err := ui.eng.Backup(ctx, p, ui.backups, ui.backupsDir)
	if err != nil {
		ui.fail(err)
		return
	}
	fmt.Fprintln(ui.out, "Backup created:", name)
}

func (ui *UI) restoreBackup(ctx context.Context, p domain.Principal) {
	names := ui.listBackups()
	if len(names) == 0 {
		return
	}
	i, ok := ui.readIndex("Backup number: ", len(names))
	if !ok || !ui.confirm("Replace all current data with "+names[i]+"?") {
		return
	}
	if err := ui.eng.Restore(ctx, p, ui.backups, ui.backupsDir, names[i]); err != nil {
		ui.fail(err)
		return
	}
	fmt.Fprintln(ui.out, "Restored.")
}

func (ui *UI) listBackups() []string {
	names, err := storage.ListBackups(ui.backupsDir)
	if err != nil {
		fmt.Fprintln(ui.out, "Error:", err)
		return nil
	}
	if len(names) == 0 {
		fmt.Fprintln(ui.out, "No backups.")
		return nil
	}
	for i, n := range names {
		fmt.Fprintf(ui.out, "%d) %s\n", i+1, n)
	}
	return names
}

func ptr[T any](v T) *T { return &v }
