package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vi13x/classbank/internal/domain"
	"github.com/vi13x/classbank/internal/engine"
)

func (ui *UI) HandleStudent(ctx context.Context, acct *domain.Account) {
	p := acct.Principal()
	for !ui.eof {
		switch ui.menu("Student - "+acct.DisplayName,
			"1) Balance",
			"2) Transfer",
			"3) History",
			"4) Open jobs",
			"5) My applications",
			"6) My jobs",
			"0) Log out",
		) {
		case "1":
			ui.balance(ctx, acct.ID)
		case "2":
			ui.transfer(ctx, p)
		case "3":
			ui.history(ctx, acct.ID)
		case "4":
			ui.browseJobs(ctx, p)
		case "5":
			ui.myApplications(ctx, p)
		case "6":
			ui.myJobs(ctx, p)
		default:
			return
		}
	}
}

func (ui *UI) balance(ctx context.Context, id domain.AccountID) {
	st, err := ui.eng.TransactionStats(ctx, id)
	if err != nil {
		ui.fail(err)
		return
	}
	sym := ui.currency(ctx)
	fmt.Fprintf(ui.out, "Balance: %s\n", money(st.Balance, sym))
	fmt.Fprintf(ui.out, "In: %s  Out: %s  Transactions: %d\n", money(st.TotalIn, sym), money(st.TotalOut, sym), st.Count)
}

func (ui *UI) transfer(ctx context.Context, p domain.Principal) {
	number := ui.prompt("Recipient account number: ")
	if number == "" {
		return
	}
	amount, ok := ui.readAmount("Amount: ")
	if !ok {
		return
	}
	msg := ui.prompt("Message: ")
	tx, err := ui.eng.Transfer(ctx, p, number, amount, msg)
	if err != nil {
		ui.fail(err)
		return
	}
	fmt.Fprintf(ui.out, "Sent %s to %s.\n", money(tx.Amount, ui.currency(ctx)), tx.RecipientName)
}

func (ui *UI) history(ctx context.Context, id domain.AccountID) {
	limit, _ := strconv.Atoi(ui.prompt("How many (0 for all): "))
	txs, err := ui.eng.History(ctx, id, max(limit, 0))
	if err != nil {
		ui.fail(err)
		return
	}
	ui.printTransactions(ctx, id, txs)
}

func (ui *UI) browseJobs(ctx context.Context, p domain.Principal) {
	job := ui.pickJob(ctx, engine.JobFilter{State: engine.StateOpen})
	if job == nil {
		return
	}
	if job.Description != "" {
		fmt.Fprintln(ui.out, job.Description)
	}
	applied, err := ui.eng.HasApplied(ctx, p, job.ID)
	if err != nil {
		ui.fail(err)
		return
	}
	label := "Why should you get the job? (empty to cancel): "
	if applied {
		label = "You have applied already. New text (empty to keep): "
	}
	text := ui.prompt(label)
	if text == "" {
		return
	}
	app, err := ui.eng.Apply(ctx, p, job.ID, text)
	if err != nil {
		ui.fail(err)
		return
	}
	if app.UpdatedAt != nil {
		fmt.Fprintln(ui.out, "Application updated.")
	} else {
		fmt.Fprintln(ui.out, "Application sent.")
	}
}

func (ui *UI) myApplications(ctx context.Context, p domain.Principal) {
	apps, err := ui.eng.MyApplications(ctx, p)
	if err != nil {
		ui.fail(err)
		return
	}
	if len(apps) == 0 {
		fmt.Fprintln(ui.out, "No applications.")
		return
	}
	for _, a := range apps {
		title := "(deleted job)"
		if job, err := ui.eng.Job(ctx, a.JobID); err == nil {
			title = job.Title
		}
		fmt.Fprintf(ui.out, "- %s  [%s]\n", title, a.Status)
	}
}

func (ui *UI) myJobs(ctx context.Context, p domain.Principal) {
	active, err := ui.eng.MyActiveJobs(ctx, p)
	if err != nil {
		ui.fail(err)
		return
	}
	done, err := ui.eng.MyJobHistory(ctx, p)
	if err != nil {
		ui.fail(err)
		return
	}
	fmt.Fprintf(ui.out, "Active (%d)\n", len(active))
	ui.printJobs(ctx, active)
	fmt.Fprintf(ui.out, "Completed (%d)\n", len(done))
	ui.printJobs(ctx, done)
}
