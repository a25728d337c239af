package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vi13x/classbank/internal/domain"
	"github.com/vi13x/classbank/internal/notify"
)

// SettingsPatch changes the fields that are set. Balances already handed out
// are not touched by a new starting balance.
type SettingsPatch struct {
	ClassName        *string          `validate:"omitnil,min=1,max=20"`
	CurrencyName     *string          `validate:"omitnil,min=2,max=50"`
	CurrencySymbol   *string          `validate:"omitnil,min=1,max=5"`
	StartingBalance  *decimal.Decimal `validate:"-"`
	EnableBusinesses *bool
}

// Settings returns the class settings with defaults for anything unset.
func (e *Engine) Settings(ctx context.Context) (*domain.Settings, error) {
	var s *domain.Settings
	err := e.read(ctx, "settings", func(u *unit) error {
		var err error
		s, err = u.settings()
		return err
	})
	return s, err
}

func (e *Engine) UpdateSettings(ctx context.Context, p domain.Principal, patch SettingsPatch) (*domain.Settings, error) {
	const op = "update_settings"
	if err := requireRole(op, p, domain.RoleTeacher); err != nil {
		return nil, err
	}
	patch.ClassName = trimPtr(patch.ClassName)
	patch.CurrencyName = trimPtr(patch.CurrencyName)
	if patch.CurrencySymbol != nil {
		patch.CurrencySymbol = ptr(strings.ToUpper(strings.TrimSpace(*patch.CurrencySymbol)))
	}
	if err := e.check(op, patch); err != nil {
		return nil, err
	}
	if patch.StartingBalance != nil {
		if err := checkBalance(op, "startingBalance", *patch.StartingBalance); err != nil {
			return nil, err
		}
	}

	var s *domain.Settings
	err := e.write(ctx, op, p, func() error {
		u := e.begin(ctx, op)
		var err error
		if s, err = u.settings(); err != nil {
			return err
		}
		if patch.ClassName != nil {
			s.ClassName = *patch.ClassName
		}
		if patch.CurrencyName != nil {
			s.CurrencyName = *patch.CurrencyName
		}
		if patch.CurrencySymbol != nil {
			s.CurrencySymbol = *patch.CurrencySymbol
		}
		if patch.StartingBalance != nil {
			s.StartingBalance = *patch.StartingBalance
		}
		if patch.EnableBusinesses != nil {
			s.EnableBusinesses = *patch.EnableBusinesses
		}
		s.UpdatedAt = ptr(e.now())
		u.putSettings(s)
		u.emit(notify.SettingsUpdated, fmt.Sprintf("settings for class %s updated", s.ClassName), s)
		return u.commit()
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
