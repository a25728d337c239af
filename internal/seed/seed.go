// Package seed loads class definitions from YAML and applies them to an engine.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vi13x/classbank/internal/domain"
	"github.com/vi13x/classbank/internal/engine"
)

//go:embed demo.yaml
var demoYAML []byte

type File struct {
	Settings *Settings `yaml:"settings"`
	Bank     Account   `yaml:"bank"`
	Students []Account `yaml:"students"`
	Jobs     []Job     `yaml:"jobs"`
}

type Settings struct {
	ClassName        string `yaml:"className"`
	CurrencyName     string `yaml:"currencyName"`
	CurrencySymbol   string `yaml:"currencySymbol"`
	StartingBalance  string `yaml:"startingBalance"`
	EnableBusinesses *bool  `yaml:"enableBusinesses"`
}

type Account struct {
	Name          string `yaml:"name"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	AccountNumber string `yaml:"accountNumber"`
}

type Job struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Salary      string `yaml:"salary"`
	Type        string `yaml:"type"`
	// AssignedTo is a student username.
	AssignedTo string `yaml:"assignedTo"`
}

// Parse decodes a seed file.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if f.Bank.Username == "" {
		return nil, errors.New("seed file: bank.username is required")
	}
	return &f, nil
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Demo returns the built-in demo class.
func Demo() *File {
	f, err := Parse(demoYAML)
	if err != nil {
		panic(err)
	}
	return f
}

// Result reports what Apply changed.
type Result struct {
	Bank            *domain.Account
	StudentsCreated int
	JobsPosted      int
}

// Apply brings eng in line with f. It is safe to run on every start: existing
// students are left alone and jobs are only posted on an empty board.
func Apply(ctx context.Context, eng *engine.Engine, f *File, log logrus.FieldLogger) (*Result, error) {
	bank, err := eng.EnsureBank(ctx, engine.BankAccount{
		DisplayName:   f.Bank.Name,
		Username:      f.Bank.Username,
		Password:      f.Bank.Password,
		AccountNumber: f.Bank.AccountNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("seed bank: %w", err)
	}
	res := &Result{Bank: bank}
	teacher := bank.Principal()

	if f.Settings != nil {
		patch, err := f.Settings.patch()
		if err != nil {
			return nil, err
		}
		if _, err := eng.UpdateSettings(ctx, teacher, patch); err != nil {
			return nil, fmt.Errorf("seed settings: %w", err)
		}
	}

	usernames := map[string]domain.AccountID{}
	existing, err := eng.Students(ctx, teacher)
	if err != nil {
		return nil, err
	}
	for _, s := range existing {
		usernames[s.Username] = s.ID
	}
	for _, s := range f.Students {
		if _, ok := usernames[s.Username]; ok {
			continue
		}
		acct, err := eng.CreateAccount(ctx, teacher, engine.NewAccount{
			DisplayName:   s.Name,
			Username:      s.Username,
			Password:      s.Password,
			AccountNumber: s.AccountNumber,
		})
		if err != nil {
			return nil, fmt.Errorf("seed student %s: %w", s.Username, err)
		}
		usernames[acct.Username] = acct.ID
		res.StudentsCreated++
	}

	board, err := eng.ListJobs(ctx, engine.JobFilter{})
	if err != nil {
		return nil, err
	}
	if len(board) == 0 {
		for _, j := range f.Jobs {
			in, err := j.newJob(usernames)
			if err != nil {
				return nil, err
			}
			if _, err := eng.PostJob(ctx, teacher, in); err != nil {
				return nil, fmt.Errorf("seed job %q: %w", j.Title, err)
			}
			res.JobsPosted++
		}
	}

	log.WithFields(logrus.Fields{
		"bank":     bank.AccountNumber,
		"students": res.StudentsCreated,
		"jobs":     res.JobsPosted,
	}).Info("seed applied")
	return res, nil
}

func (s *Settings) patch() (engine.SettingsPatch, error) {
	var p engine.SettingsPatch
	set := func(v string) *string {
		if v == "" {
			return nil
		}
		return &v
	}
	p.ClassName = set(s.ClassName)
	p.CurrencyName = set(s.CurrencyName)
	p.CurrencySymbol = set(s.CurrencySymbol)
	p.EnableBusinesses = s.EnableBusinesses
	if s.StartingBalance != "" {
		d, err := domain.ParseAmount(s.StartingBalance)
		if err != nil {
			return p, fmt.Errorf("seed settings: startingBalance: %w", err)
		}
		p.StartingBalance = &d
	}
	return p, nil
}

func (j Job) newJob(usernames map[string]domain.AccountID) (engine.NewJob, error) {
	salary, err := domain.ParseAmount(j.Salary)
	if err != nil {
		return engine.NewJob{}, fmt.Errorf("seed job %q: salary: %w", j.Title, err)
	}
	typ := domain.JobType(j.Type)
	if typ == "" {
		typ = domain.JobFixed
	}
	in := engine.NewJob{Title: j.Title, Description: j.Description, Salary: salary, Type: typ}
	if j.AssignedTo != "" {
		id, ok := usernames[j.AssignedTo]
		if !ok {
			return in, fmt.Errorf("seed job %q: unknown student %q", j.Title, j.AssignedTo)
		}
		in.AssignedTo = &id
	}
	return in, nil
}
