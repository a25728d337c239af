package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/vi13x/classbank/internal/domain"
	"github.com/vi13x/classbank/internal/metrics"
	"github.com/vi13x/classbank/internal/notify"
)

// DefaultGrantMessage is used when a grant carries no message.
const DefaultGrantMessage = "Payout from the bank"

type NewAccount struct {
	DisplayName   string `validate:"min=2,max=100"`
	Username      string `validate:"min=3,max=20,username"`
	Password      string `validate:"min=6"`
	AccountNumber string `validate:"omitempty,acctnum"` // empty picks the next free number
}

// AccountPatch changes identity fields only; nil fields are left alone.
type AccountPatch struct {
	DisplayName   *string `validate:"omitnil,min=2,max=100"`
	Username      *string `validate:"omitnil,min=3,max=20,username"`
	AccountNumber *string `validate:"omitnil,acctnum"`
}

type GrantResult struct {
	Succeeded []*domain.Transaction
	Skipped   []domain.AccountID
}

type StudentStats struct {
	Count   int
	Total   decimal.Decimal
	Average decimal.Decimal
	Highest decimal.Decimal
	Lowest  decimal.Decimal
}

type TransactionStats struct {
	TotalIn  decimal.Decimal
	TotalOut decimal.Decimal
	Balance  decimal.Decimal
	Count    int
}

func (e *Engine) hash(op, password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), e.hashCost)
	if err != nil {
		return "", &Error{Kind: KindValidation, Op: op, Msg: "password cannot be hashed", Err: err}
	}
	return string(h), nil
}

// CreateAccount opens a student account funded with the current starting balance.
func (e *Engine) CreateAccount(ctx context.Context, p domain.Principal, in NewAccount) (*domain.Account, error) {
	const op = "create_account"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Username = strings.TrimSpace(in.Username)
	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	if err := e.check(op, in); err != nil {
		return nil, err
	}
	hash, err := e.hash(op, in.Password)
	if err != nil {
		return nil, err
	}

	var acct *domain.Account
	err = e.write(ctx, op, p, func() error {
		u := e.begin(ctx, op)
		accts, err := u.accounts()
		if err != nil {
			return err
		}
		settings, err := u.settings()
		if err != nil {
			return err
		}
		if acct = accountByUsername(accts, in.Username); acct != nil {
			return fail(KindConflict, op, "username %q is taken", in.Username)
		}
		number := in.AccountNumber
		if number == "" {
			if number, err = nextAccountNumber(op, accts); err != nil {
				return err
			}
		} else if accountByNumber(accts, number) != nil {
			return fail(KindConflict, op, "account number %s is taken", number)
		}
		acct = &domain.Account{
			ID:            domain.AccountID(e.newID("acc")),
			Username:      in.Username,
			DisplayName:   in.DisplayName,
			Role:          domain.RoleStudent,
			AccountNumber: number,
			PassHash:      hash,
			Balance:       settings.StartingBalance,
			CreatedAt:     e.now(),
		}
		u.putAccounts(append(accts, acct))
		u.emit(notify.AccountCreated, fmt.Sprintf("account %s (%s) opened for %s", acct.AccountNumber, acct.Username, acct.DisplayName), acct)
		return u.commit()
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// BankAccount describes the teacher account acting as the bank.
type BankAccount struct {
	DisplayName   string `validate:"min=2,max=100"`
	Username      string `validate:"min=3,max=20,username"`
	Password      string `validate:"min=6"`
	AccountNumber string `validate:"acctnum"`
}

// EnsureBank creates the teacher account unless a teacher with that username
// already exists, and returns it. It runs before any principal exists.
func (e *Engine) EnsureBank(ctx context.Context, in BankAccount) (*domain.Account, error) {
	const op = "ensure_bank"
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Username = strings.TrimSpace(in.Username)
	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	if err := e.check(op, in); err != nil {
		return nil, err
	}

	var acct *domain.Account
	err := e.read(ctx, op, func(u *unit) error {
		accts, err := u.accounts()
		if err != nil {
			return err
		}
		acct = accountByUsername(accts, in.Username)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if acct != nil {
		if acct.Role != domain.RoleTeacher {
			return nil, fail(KindConflict, op, "username %q belongs to a student", in.Username)
		}
		return acct, nil
	}

	hash, err := e.hash(op, in.Password)
	if err != nil {
		return nil, err
	}
	err = e.write(ctx, op, domain.Principal{}, func() error {
		u := e.begin(ctx, op)
		accts, err := u.accounts()
		if err != nil {
			return err
		}
		if existing := accountByUsername(accts, in.Username); existing != nil {
			if existing.Role != domain.RoleTeacher {
				return fail(KindConflict, op, "username %q belongs to a student", in.Username)
			}
			acct = existing
			return nil
		}
		if accountByNumber(accts, in.AccountNumber) != nil {
			return fail(KindConflict, op, "account number %s is taken", in.AccountNumber)
		}
		acct = &domain.Account{
			ID:            domain.AccountID(e.newID("acc")),
			Username:      in.Username,
			DisplayName:   in.DisplayName,
			Role:          domain.RoleTeacher,
			AccountNumber: in.AccountNumber,
			PassHash:      hash,
			Balance:       decimal.Zero,
			CreatedAt:     e.now(),
		}
		u.putAccounts(append(accts, acct))
		u.emit(notify.AccountCreated, fmt.Sprintf("bank account %s opened", acct.AccountNumber), acct)
		return u.commit()
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (e *Engine) UpdateAccount(ctx context.Context, p domain.Principal, id domain.AccountID, patch AccountPatch) (*domain.Account, error) {
	const op = "update_account"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	patch.DisplayName = trimPtr(patch.DisplayName)
	patch.Username = trimPtr(patch.Username)
	patch.AccountNumber = trimPtr(patch.AccountNumber)
	if err := e.check(op, patch); err != nil {
		return nil, err
	}

	var acct *domain.Account
	err := e.write(ctx, op, p, func() error {
		u := e.begin(ctx, op)
		accts, err := u.accounts()
		if err != nil {
			return err
		}
		if acct = findAccount(accts, id); acct == nil {
			return fail(KindNotFound, op, "account %s not found", id)
		}
		if patch.Username != nil {
			if other := accountByUsername(accts, *patch.Username); other != nil && other.ID != id {
				return fail(KindConflict, op, "username %q is taken", *patch.Username)
			}
			acct.Username = *patch.Username
		}
		if patch.AccountNumber != nil {
			if other := accountByNumber(accts, *patch.AccountNumber); other != nil && other.ID != id {
				return fail(KindConflict, op, "account number %s is taken", *patch.AccountNumber)
			}
			acct.AccountNumber = *patch.AccountNumber
		}
		if patch.DisplayName != nil {
			acct.DisplayName = *patch.DisplayName
		}
		acct.UpdatedAt = ptr(e.now())
		u.putAccounts(accts)
		u.emit(notify.AccountUpdated, fmt.Sprintf("account %s updated", acct.AccountNumber), acct)
		return u.commit()
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// DeleteAccount removes a student. Transactions keep their name snapshots.
func (e *Engine) DeleteAccount(ctx context.Context, p domain.Principal, id domain.AccountID) error {
	const op = "delete_account"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return err
	}
	return e.write(ctx, op, p, func() error {
		u := e.begin(ctx, op)
		accts, err := u.accounts()
		if err != nil {
			return err
		}
		acct := findAccount(accts, id)
		if acct == nil {
			return fail(KindNotFound, op, "account %s not found", id)
		}
		if acct.Role != domain.RoleStudent {
			return fail(KindInvalidRole, op, "only student accounts can be deleted")
		}
		kept := accts[:0:0]
		for _, a := range accts {
			if a.ID != id {
				kept = append(kept, a)
			}
		}
		u.putAccounts(kept)
		u.emit(notify.AccountDeleted, fmt.Sprintf("account %s (%s) deleted", acct.AccountNumber, acct.Username), acct)
		return u.commit()
	})
}

// Transfer moves money from the principal to the account with the given
// number. The teacher sends from the bank and is never debited.
func (e *Engine) Transfer(ctx context.Context, p domain.Principal, recipientNumber string, amount decimal.Decimal, message string) (*domain.Transaction, error) {
	const op = "transfer"
	if !p.Role.Valid() {
		return nil, fail(KindInvalidRole, op, "unknown role %q", p.Role)
	}
	if err := checkAmount(op, "amount", amount); err != nil {
		return nil, err
	}
	recipientNumber = strings.TrimSpace(recipientNumber)

	var tx *domain.Transaction
	err := e.write(ctx, op, p, func() error {
		u := e.begin(ctx, op)
		sender, err := u.actor(p)
		if err != nil {
			return err
		}
		accts, err := u.accounts()
		if err != nil {
			return err
		}
		recipient := accountByNumber(accts, recipientNumber)
		if recipient == nil {
			return fail(KindNotFound, op, "no account with number %s", recipientNumber)
		}
		if recipient.ID == sender.ID {
			return fail(KindSelfTransfer, op, "cannot transfer to your own account")
		}
		if !sender.IsBank() && sender.Balance.LessThan(amount) {
			return fail(KindInsufficientFunds, op, "balance %s is less than %s", domain.FormatMoney(sender.Balance), domain.FormatMoney(amount))
		}
		if tx, err = u.move(sender, recipient, amount, strings.TrimSpace(message)); err != nil {
			return err
		}
		return u.commit()
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordMoneyMoved("transfer", amount)
	return tx, nil
}

// Grant pays amount from the bank to every recipient. Each recipient is its
// own unit: missing accounts, the bank itself and failed writes are skipped.
func (e *Engine) Grant(ctx context.Context, p domain.Principal, recipients []domain.AccountID, amount decimal.Decimal, message string) (*GrantResult, error) {
	const op = "grant"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, fail(KindValidation, op, "no recipients selected")
	}
	if err := checkAmount(op, "amount", amount); err != nil {
		return nil, err
	}
	if message = strings.TrimSpace(message); message == "" {
		message = DefaultGrantMessage
	}

	res := &GrantResult{}
	err := e.write(ctx, op, p, func() error {
		if _, err := e.begin(ctx, op).actor(p); err != nil {
			return err
		}
		for _, id := range recipients {
			tx, err := e.grantOne(ctx, op, p, id, amount, message)
			if err != nil {
				e.log.WithField("op", op).WithField("recipient", id).WithError(err).Warn("grant skipped")
				res.Skipped = append(res.Skipped, id)
				continue
			}
			res.Succeeded = append(res.Succeeded, tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for range res.Succeeded {
		metrics.RecordMoneyMoved("grant", amount)
	}
	return res, nil
}

func (e *Engine) grantOne(ctx context.Context, op string, p domain.Principal, id domain.AccountID, amount decimal.Decimal, message string) (*domain.Transaction, error) {
	u := e.begin(ctx, op)
	bank, err := u.actor(p)
	if err != nil {
		return nil, err
	}
	accts, err := u.accounts()
	if err != nil {
		return nil, err
	}
	recipient := findAccount(accts, id)
	if recipient == nil {
		return nil, fail(KindNotFound, op, "account %s not found", id)
	}
	if recipient.ID == bank.ID {
		return nil, fail(KindSelfTransfer, op, "bank cannot pay itself")
	}
	tx, err := u.move(bank, recipient, amount, message)
	if err != nil {
		return nil, err
	}
	if err := u.commit(); err != nil {
		return nil, err
	}
	return tx, nil
}

// move stages one transfer inside u. The bank is never debited; the
// recipient is always credited. Balance checks are the caller's job.
func (u *unit) move(sender, recipient *domain.Account, amount decimal.Decimal, message string) (*domain.Transaction, error) {
	accts, err := u.accounts()
	if err != nil {
		return nil, err
	}
	txs, err := u.transactions()
	if err != nil {
		return nil, err
	}
	now := u.e.now()
	if !sender.IsBank() {
		sender.Balance = sender.Balance.Sub(amount)
		sender.UpdatedAt = ptr(now)
	}
	recipient.Balance = recipient.Balance.Add(amount)
	recipient.UpdatedAt = ptr(now)

	tx := &domain.Transaction{
		ID:            domain.TxID(u.e.newID("tx")),
		SenderID:      sender.ID,
		SenderName:    sender.DisplayName,
		RecipientID:   recipient.ID,
		RecipientName: recipient.DisplayName,
		Amount:        amount,
		Message:       message,
		Timestamp:     now,
		Participants:  []domain.AccountID{sender.ID, recipient.ID},
	}
	u.putAccounts(accts)
	u.putTransactions(append(txs, tx))
	u.emit(notify.TransactionCreated, fmt.Sprintf("%s -> %s %s", sender.DisplayName, recipient.DisplayName, domain.FormatMoney(amount)), tx)
	return tx, nil
}

// actor resolves the principal's stored account and checks its role matches.
func (u *unit) actor(p domain.Principal) (*domain.Account, error) {
	accts, err := u.accounts()
	if err != nil {
		return nil, err
	}
	acct := findAccount(accts, p.ID)
	if acct == nil {
		return nil, fail(KindNotFound, u.op, "account %s not found", p.ID)
	}
	if acct.Role != p.Role {
		return nil, fail(KindInvalidRole, u.op, "account %s is not a %s", p.ID, p.Role)
	}
	return acct, nil
}

// History returns the account's transactions, newest first. limit 0 means all.
func (e *Engine) History(ctx context.Context, id domain.AccountID, limit int) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	err := e.read(ctx, "history", func(u *unit) error {
		txs, err := u.transactions()
		if err != nil {
			return err
		}
		for _, tx := range txs {
			if tx.Involves(id) {
				out = append(out, tx)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newestFirst(out, limit), nil
}

func (e *Engine) AllTransactions(ctx context.Context, p domain.Principal, limit int) ([]*domain.Transaction, error) {
	const op = "all_transactions"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	var out []*domain.Transaction
	err := e.read(ctx, op, func(u *unit) error {
		var err error
		out, err = u.transactions()
		return err
	})
	if err != nil {
		return nil, err
	}
	return newestFirst(out, limit), nil
}

// newestFirst orders txs by timestamp, descending. txs is in log order, so
// ties keep the later entry first.
func newestFirst(txs []*domain.Transaction, limit int) []*domain.Transaction {
	slices.Reverse(txs)
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Timestamp.After(txs[j].Timestamp) })
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs
}

func (e *Engine) TransactionStats(ctx context.Context, id domain.AccountID) (*TransactionStats, error) {
	st := &TransactionStats{TotalIn: decimal.Zero, TotalOut: decimal.Zero, Balance: decimal.Zero}
	err := e.read(ctx, "transaction_stats", func(u *unit) error {
		accts, err := u.accounts()
		if err != nil {
			return err
		}
		if acct := findAccount(accts, id); acct != nil {
			st.Balance = acct.Balance
		}
		txs, err := u.transactions()
		if err != nil {
			return err
		}
		for _, tx := range txs {
			switch id {
			case tx.RecipientID:
				st.TotalIn = st.TotalIn.Add(tx.Amount)
			case tx.SenderID:
				st.TotalOut = st.TotalOut.Add(tx.Amount)
			default:
				continue
			}
			st.Count++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (e *Engine) Account(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	return e.lookup(ctx, "account", func(accts []*domain.Account) *domain.Account {
		return findAccount(accts, id)
	})
}

func (e *Engine) AccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	return e.lookup(ctx, "account_by_number", func(accts []*domain.Account) *domain.Account {
		return accountByNumber(accts, strings.TrimSpace(number))
	})
}

func (e *Engine) lookup(ctx context.Context, op string, find func([]*domain.Account) *domain.Account) (*domain.Account, error) {
	var acct *domain.Account
	err := e.read(ctx, op, func(u *unit) error {
		accts, err := u.accounts()
		if err != nil {
			return err
		}
		if acct = find(accts); acct == nil {
			return fail(KindNotFound, op, "account not found")
		}
		return nil
	})
	return acct, err
}

// Students lists student accounts by display name.
func (e *Engine) Students(ctx context.Context, p domain.Principal) ([]*domain.Account, error) {
	const op = "students"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	var out []*domain.Account
	err := e.read(ctx, op, func(u *unit) error {
		accts, err := u.accounts()
		if err != nil {
			return err
		}
		out = students(accts)
		return nil
	})
	return out, err
}

func students(accts []*domain.Account) []*domain.Account {
	var out []*domain.Account
	for _, a := range accts {
		if a.Role == domain.RoleStudent {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].DisplayName) < strings.ToLower(out[j].DisplayName)
	})
	return out
}

func (e *Engine) StudentStats(ctx context.Context, p domain.Principal) (*StudentStats, error) {
	list, err := e.Students(ctx, p)
	if err != nil {
		return nil, err
	}
	st := &StudentStats{Count: len(list), Total: decimal.Zero, Average: decimal.Zero, Highest: decimal.Zero, Lowest: decimal.Zero}
	for i, a := range list {
		st.Total = st.Total.Add(a.Balance)
		if i == 0 || a.Balance.GreaterThan(st.Highest) {
			st.Highest = a.Balance
		}
		if i == 0 || a.Balance.LessThan(st.Lowest) {
			st.Lowest = a.Balance
		}
	}
	if st.Count > 0 {
		st.Average = st.Total.Div(decimal.NewFromInt(int64(st.Count))).Round(domain.MaxDecimals)
	}
	return st, nil
}

func (e *Engine) NextAccountNumber(ctx context.Context) (string, error) {
	const op = "next_account_number"
	var number string
	err := e.read(ctx, op, func(u *unit) error {
		accts, err := u.accounts()
		if err != nil {
			return err
		}
		number, err = nextAccountNumber(op, accts)
		return err
	})
	return number, err
}

// Authenticate checks a username and password and returns the principal.
func (e *Engine) Authenticate(ctx context.Context, username, password string) (domain.Principal, error) {
	const op = "authenticate"
	var acct *domain.Account
	err := e.read(ctx, op, func(u *unit) error {
		accts, err := u.accounts()
		if err != nil {
			return err
		}
		acct = accountByUsername(accts, strings.TrimSpace(username))
		return nil
	})
	if err != nil {
		return domain.Principal{}, err
	}
	if acct == nil || bcrypt.CompareHashAndPassword([]byte(acct.PassHash), []byte(password)) != nil {
		return domain.Principal{}, fail(KindValidation, op, "invalid username or password")
	}
	return acct.Principal(), nil
}

func findAccount(accts []*domain.Account, id domain.AccountID) *domain.Account {
	for _, a := range accts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func accountByNumber(accts []*domain.Account, number string) *domain.Account {
	for _, a := range accts {
		if a.AccountNumber == number {
			return a
		}
	}
	return nil
}

func accountByUsername(accts []*domain.Account, username string) *domain.Account {
	for _, a := range accts {
		if a.Username == username {
			return a
		}
	}
	return nil
}

// nextAccountNumber is one past the highest number in use, 101 on an empty class.
func nextAccountNumber(op string, accts []*domain.Account) (string, error) {
	highest := 100
	for _, a := range accts {
		if n, err := strconv.Atoi(a.AccountNumber); err == nil && n > highest {
			highest = n
		}
	}
	next := highest + 1
	if next > 999 {
		return "", fail(KindConflict, op, "no free account numbers")
	}
	return fmt.Sprintf("%0*d", AccountNumberLen, next), nil
}
