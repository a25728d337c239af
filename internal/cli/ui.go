// Package cli is the console front end: login, then a teacher or student menu.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vi13x/classbank/internal/domain"
	"github.com/vi13x/classbank/internal/engine"
)

type Mode int

const (
	ModeExit Mode = iota
	ModeLogin
)

// BackupStore is implemented by stores that keep file backups.
type BackupStore = engine.BackupStore

type UI struct {
	eng        *engine.Engine
	in         *bufio.Reader
	out        io.Writer
	log        logrus.FieldLogger
	backups    BackupStore
	backupsDir string
	reportsDir string
	eof        bool
}

type Option func(*UI)

// WithBackups enables the backup entries of the teacher menu.
func WithBackups(store BackupStore, dir string) Option {
	return func(ui *UI) { ui.backups, ui.backupsDir = store, dir }
}

func WithReportsDir(dir string) Option {
	return func(ui *UI) { ui.reportsDir = dir }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(ui *UI) { ui.log = log }
}

func NewUI(eng *engine.Engine, in io.Reader, out io.Writer, opts ...Option) *UI {
	ui := &UI{
		eng:        eng,
		in:         bufio.NewReader(in),
		out:        out,
		log:        logrus.StandardLogger(),
		reportsDir: "reports",
	}
	for _, o := range opts {
		o(ui)
	}
	return ui
}

// Run loops over login sessions until the user exits or input ends.
func (ui *UI) Run(ctx context.Context) {
	for ctx.Err() == nil && !ui.eof {
		switch ui.SelectMode() {
		case ModeLogin:
			acct := ui.HandleLogin(ctx)
			if acct == nil {
				continue
			}
			if acct.Role == domain.RoleTeacher {
				ui.HandleTeacher(ctx, acct)
			} else {
				ui.HandleStudent(ctx, acct)
			}
		default:
			fmt.Fprintln(ui.out, "Bye!")
			return
		}
	}
}

func (ui *UI) SelectMode() Mode {
	fmt.Fprintln(ui.out, "\nChoose:")
	fmt.Fprintln(ui.out, "1) Log in")
	fmt.Fprintln(ui.out, "0) Exit")
	fmt.Fprint(ui.out, "> ")
	if strings.TrimSpace(ui.readLine()) == "1" {
		return ModeLogin
	}
	return ModeExit
}

func (ui *UI) HandleLogin(ctx context.Context) *domain.Account {
	fmt.Fprintln(ui.out, "\n=== Log in ===")
	username := ui.prompt("Username: ")
	password := ui.readPassword("Password: ")

	p, err := ui.eng.Authenticate(ctx, username, password)
	if err != nil {
		ui.fail(err)
		return nil
	}
	acct, err := ui.eng.Account(ctx, p.ID)
	if err != nil {
		ui.fail(err)
		return nil
	}
	fmt.Fprintf(ui.out, "Welcome, %s!\n", acct.DisplayName)
	return acct
}

func (ui *UI) menu(title string, items ...string) string {
	fmt.Fprintf(ui.out, "\n=== %s ===\n", title)
	for _, it := range items {
		fmt.Fprintln(ui.out, it)
	}
	fmt.Fprint(ui.out, "> ")
	return strings.TrimSpace(ui.readLine())
}

func (ui *UI) readLine() string {
	s, err := ui.in.ReadString('\n')
	if errors.Is(err, io.EOF) && s == "" {
		ui.eof = true
	}
	return strings.TrimRight(s, "\r\n")
}

func (ui *UI) prompt(label string) string {
	fmt.Fprint(ui.out, label)
	return strings.TrimSpace(ui.readLine())
}

// readPassword does not disable echo; terminals differ too much.
func (ui *UI) readPassword(label string) string {
	fmt.Fprint(ui.out, label)
	return ui.readLine()
}

// readAmount asks until the input parses. Empty input returns ok=false.
func (ui *UI) readAmount(label string) (decimal.Decimal, bool) {
	for !ui.eof {
		raw := ui.prompt(label)
		if raw == "" {
			return decimal.Zero, false
		}
		d, err := domain.ParseAmount(raw)
		if err != nil {
			fmt.Fprintln(ui.out, "Invalid amount. Example: 100.50")
			continue
		}
		return d, true
	}
	return decimal.Zero, false
}

// readIndex reads a 1-based choice from a list of n items.
func (ui *UI) readIndex(label string, n int) (int, bool) {
	raw := ui.prompt(label)
	i, err := strconv.Atoi(raw)
	if err != nil || i < 1 || i > n {
		if raw != "" {
			fmt.Fprintln(ui.out, "No such entry.")
		}
		return 0, false
	}
	return i - 1, true
}

func (ui *UI) confirm(label string) bool {
	switch strings.ToLower(ui.prompt(label + " [y/N]: ")) {
	case "y", "yes":
		return true
	}
	return false
}

func (ui *UI) fail(err error) {
	if engine.KindOf(err) == engine.KindStorage {
		ui.log.WithError(err).Error("console operation failed")
		fmt.Fprintln(ui.out, "Error: the store could not be updated, nothing was changed.")
		return
	}
	fmt.Fprintln(ui.out, "Error:", message(err))
}

// message strips the operation prefix from engine errors.
func message(err error) string {
	var e *engine.Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}

// currency returns the configured symbol, or "" when settings cannot be read.
func (ui *UI) currency(ctx context.Context) string {
	s, err := ui.eng.Settings(ctx)
	if err != nil {
		return ""
	}
	return s.CurrencySymbol
}

func money(d decimal.Decimal, symbol string) string {
	if symbol == "" {
		return domain.FormatMoney(d)
	}
	return domain.FormatMoney(d) + " " + symbol
}

func (ui *UI) printTransactions(ctx context.Context, self domain.AccountID, txs []*domain.Transaction) {
	if len(txs) == 0 {
		fmt.Fprintln(ui.out, "No transactions.")
		return
	}
	sym := ui.currency(ctx)
	for _, t := range txs {
		sign, other := "+", t.SenderName
		if t.SenderID == self {
			sign, other = "-", t.RecipientName
		}
		fmt.Fprintf(ui.out, "- %s  %s%s  %s\n", t.Timestamp.Local().Format(time.DateTime), sign, money(t.Amount, sym), other)
		if t.Message != "" {
			fmt.Fprintf(ui.out, "    %s\n", t.Message)
		}
	}
}

func (ui *UI) printJobs(ctx context.Context, jobs []*engine.JobListing) {
	sym := ui.currency(ctx)
	for i, j := range jobs {
		line := fmt.Sprintf("%d) %s  [%s, %s]  %s", i+1, j.Title, j.Type, engine.StateOf(j.Job), money(j.Salary, sym))
		if j.AssignedToName != "" {
			line += "  -> " + j.AssignedToName
		}
		fmt.Fprintln(ui.out, line)
	}
}

// pickJob lists jobs matching f and asks for one.
func (ui *UI) pickJob(ctx context.Context, f engine.JobFilter) *engine.JobListing {
	jobs, err := ui.eng.ListJobs(ctx, f)
	if err != nil {
		ui.fail(err)
		return nil
	}
	if len(jobs) == 0 {
		fmt.Fprintln(ui.out, "No matching jobs.")
		return nil
	}
	ui.printJobs(ctx, jobs)
	i, ok := ui.readIndex("Job number: ", len(jobs))
	if !ok {
		return nil
	}
	return jobs[i]
}
