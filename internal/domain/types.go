package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountID string
type TxID string
type JobID string
type ApplicationID string

type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

func (r Role) Valid() bool { return r == RoleTeacher || r == RoleStudent }

// Principal is the already-authenticated caller of an engine operation.
type Principal struct {
	ID   AccountID `json:"id"`
	Role Role      `json:"role"`
}

func (p Principal) IsTeacher() bool { return p.Role == RoleTeacher }

type Account struct {
	ID            AccountID       `json:"id"`
	Username      string          `json:"username"`
	DisplayName   string          `json:"name"`
	Role          Role            `json:"type"`
	AccountNumber string          `json:"accountNumber"`
	PassHash      string          `json:"password,omitempty"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     *time.Time      `json:"updatedAt,omitempty"`
}

// Principal returns the acting identity of the account.
func (a *Account) Principal() Principal { return Principal{ID: a.ID, Role: a.Role} }

// IsBank reports whether the account is exempt from debit and floor checks.
func (a *Account) IsBank() bool { return a.Role == RoleTeacher }

type Transaction struct {
	ID            TxID            `json:"id"`
	SenderID      AccountID       `json:"senderId"`
	SenderName    string          `json:"senderName"`
	RecipientID   AccountID       `json:"recipientId"`
	RecipientName string          `json:"recipientName"`
	Amount        decimal.Decimal `json:"amount"`
	Message       string          `json:"message"`
	Timestamp     time.Time       `json:"timestamp"`
	Participants  []AccountID     `json:"participants"`
}

// Involves reports whether the account sent or received the transaction.
func (t *Transaction) Involves(id AccountID) bool {
	return t.SenderID == id || t.RecipientID == id
}

type JobType string

const (
	JobFixed   JobType = "fixed"
	JobProject JobType = "project"
)

func (t JobType) Valid() bool { return t == JobFixed || t == JobProject }

type JobStatus string

const (
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
)

type Job struct {
	ID            JobID           `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Salary        decimal.Decimal `json:"salary"`
	Type          JobType         `json:"type"`
	PostedBy      AccountID       `json:"postedBy"`
	Status        JobStatus       `json:"status"`
	AssignedTo    *AccountID      `json:"assignedTo"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     *time.Time      `json:"updatedAt,omitempty"`
	AssignedAt    *time.Time      `json:"assignedAt"`
	CompletedAt   *time.Time      `json:"completedAt"`
	LastPaymentAt *time.Time      `json:"lastPaymentAt"`
}

// IsOpen: active with nobody assigned.
func (j *Job) IsOpen() bool { return j.Status == JobActive && j.AssignedTo == nil }

// IsOccupied: active with an assignee.
func (j *Job) IsOccupied() bool { return j.Status == JobActive && j.AssignedTo != nil }

func (j *Job) IsCompleted() bool { return j.Status == JobCompleted }

// AssignedToID returns the assignee or "" when the job is unassigned.
func (j *Job) AssignedToID() AccountID {
	if j.AssignedTo == nil {
		return ""
	}
	return *j.AssignedTo
}

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationAccepted ApplicationStatus = "accepted"
	ApplicationRejected ApplicationStatus = "rejected"
)

type Application struct {
	ID            ApplicationID     `json:"id"`
	JobID         JobID             `json:"jobId"`
	ApplicantID   AccountID         `json:"applicantId"`
	ApplicantName string            `json:"applicantName"`
	Text          string            `json:"applicationText"`
	Status        ApplicationStatus `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     *time.Time        `json:"updatedAt,omitempty"`
}

func (a *Application) IsPending() bool { return a.Status == ApplicationPending }

type Settings struct {
	ClassName        string          `json:"className"`
	CurrencyName     string          `json:"currencyName"`
	CurrencySymbol   string          `json:"currencySymbol"`
	StartingBalance  decimal.Decimal `json:"startingBalance"`
	EnableBusinesses bool            `json:"enableBusinesses"`
	UpdatedAt        *time.Time      `json:"updatedAt,omitempty"`
}

// DefaultSettings is what a fresh class starts with.
func DefaultSettings() Settings {
	return Settings{
		ClassName:        "7A",
		CurrencyName:     "KlasseKrone",
		CurrencySymbol:   "KKR",
		StartingBalance:  decimal.NewFromInt(1000),
		EnableBusinesses: false,
	}
}
