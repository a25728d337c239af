// Package report renders account statements.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vi13x/classbank/internal/domain"
)

var header = []string{"tx_id", "direction", "counterparty", "amount", "message", "timestamp"}

// Range bounds a statement. Zero From or To leaves that side open; To is inclusive.
type Range struct {
	From time.Time
	To   time.Time
}

func (r Range) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Day returns the range covering the whole days from..to, both given at midnight.
func Day(from, to time.Time) Range {
	if to.Before(from) {
		to = from
	}
	return Range{From: from, To: to.Add(24*time.Hour - time.Nanosecond)}
}

// WriteStatement writes the transactions involving id as CSV. Amounts sent
// by the account are negative. Rows keep the order of txs.
func WriteStatement(w io.Writer, id domain.AccountID, txs []*domain.Transaction, r Range) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return 0, err
	}
	n := 0
	for _, t := range txs {
		if !t.Involves(id) || !r.contains(t.Timestamp) {
			continue
		}
		direction, counterparty, amount := "in", t.SenderName, domain.FormatMoney(t.Amount)
		if t.SenderID == id {
			direction, counterparty, amount = "out", t.RecipientName, domain.FormatMoney(t.Amount.Neg())
		}
		row := []string{string(t.ID), direction, counterparty, amount, t.Message, t.Timestamp.UTC().Format(time.RFC3339)}
		if err := cw.Write(row); err != nil {
			return n, err
		}
		n++
	}
	cw.Flush()
	return n, cw.Error()
}

// ExportStatement writes a statement file under dir and returns its path.
func ExportStatement(dir string, acct *domain.Account, txs []*domain.Transaction, r Range) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("statement_%s_%s.csv", acct.AccountNumber, time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := WriteStatement(f, acct.ID, txs, r); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, f.Close()
}
