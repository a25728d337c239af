package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vi13x/classbank/internal/domain"
	"github.com/vi13x/classbank/internal/engine"
	"github.com/vi13x/classbank/internal/storage"
)

func newEngine() *engine.Engine {
	log, _ := logtest.NewNullLogger()
	return engine.New(storage.NewMemory(), engine.WithPasswordCost(bcrypt.MinCost), engine.WithLogger(log))
}

func TestDemo(t *testing.T) {
	f := Demo()
	assert.Equal(t, "laerer", f.Bank.Username)
	assert.Equal(t, "100", f.Bank.AccountNumber)
	require.Len(t, f.Students, 3)
	assert.Equal(t, "kari123", f.Students[0].Username)
	assert.Empty(t, f.Jobs)
}

func TestApplyDemoIsIdempotent(t *testing.T) {
	ctx := context.Background()
	eng := newEngine()
	log, hook := logtest.NewNullLogger()

	res, err := Apply(ctx, eng, Demo(), log)
	require.NoError(t, err)
	assert.Equal(t, 3, res.StudentsCreated)
	assert.Equal(t, domain.RoleTeacher, res.Bank.Role)
	assert.Equal(t, "seed applied", hook.LastEntry().Message)

	again, err := Apply(ctx, eng, Demo(), log)
	require.NoError(t, err)
	assert.Equal(t, 0, again.StudentsCreated)
	assert.Equal(t, res.Bank.ID, again.Bank.ID)

	students, err := eng.Students(ctx, res.Bank.Principal())
	require.NoError(t, err)
	require.Len(t, students, 3)
	for _, s := range students {
		assert.Equal(t, "1000.00", domain.FormatMoney(s.Balance), s.Username)
	}

	p, err := eng.Authenticate(ctx, "ola456", "passord456")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleStudent, p.Role)
}

const classYAML = `
settings:
  className: 8B
  currencySymbol: gull
  startingBalance: "250,5"
  enableBusinesses: true
bank:
  name: Ms Berg
  username: berg
  password: secret1
  accountNumber: "100"
students:
  - name: Nora Lie
    username: nora
    password: secret2
jobs:
  - title: Librarian
    salary: "40"
  - title: School poster
    salary: "120"
    type: project
    assignedTo: nora
`

func TestApplyFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "class.yaml")
	require.NoError(t, os.WriteFile(path, []byte(classYAML), 0o600))
	f, err := Load(path)
	require.NoError(t, err)

	eng := newEngine()
	log, _ := logtest.NewNullLogger()
	res, err := Apply(ctx, eng, f, log)
	require.NoError(t, err)
	assert.Equal(t, 1, res.StudentsCreated)
	assert.Equal(t, 2, res.JobsPosted)

	s, err := eng.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "8B", s.ClassName)
	assert.Equal(t, "GULL", s.CurrencySymbol)
	assert.Equal(t, "KlasseKrone", s.CurrencyName)
	assert.True(t, s.EnableBusinesses)

	nora, err := eng.AccountByNumber(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, "250.50", domain.FormatMoney(nora.Balance))

	occupied, err := eng.ListJobs(ctx, engine.JobFilter{State: engine.StateOccupied})
	require.NoError(t, err)
	require.Len(t, occupied, 1)
	assert.Equal(t, "Nora Lie", occupied[0].AssignedToName)

	again, err := Apply(ctx, eng, f, log)
	require.NoError(t, err)
	assert.Equal(t, 0, again.JobsPosted)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("bank: ["))
	assert.Error(t, err)
	_, err = Parse([]byte("students: []"))
	assert.EqualError(t, err, "seed file: bank.username is required")
	_, err = Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyRejectsUnknownAssignee(t *testing.T) {
	f, err := Parse([]byte(`
bank: {name: Ms Berg, username: berg, password: secret1, accountNumber: "100"}
jobs:
  - {title: Librarian, salary: "40", assignedTo: ghost}
`))
	require.NoError(t, err)
	log, _ := logtest.NewNullLogger()
	_, err = Apply(context.Background(), newEngine(), f, log)
	assert.ErrorContains(t, err, `unknown student "ghost"`)
}
