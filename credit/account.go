/*
account.go - Account lifecycle, profile, and settings operations

PURPOSE:
  Account creation on first contact (with the fixed onboarding grant) and
  the profile/settings setters that share storage with the account record.

BILLING BOUNDARY:
  None of the operations in this file read-modify-write the balance. They
  run inside Atomic sections so their full-record writes cannot interleave
  with a concurrent debit, but the balance value they write is always the
  one observed under the same lock.
*/
package credit

import (
	"context"
	"errors"
)

// GetOrCreate looks an account up by id; if absent, inserts it with the
// fixed onboarding balance and the supplied profile. If present, updates
// mutable profile fields only - billing fields are never touched by this
// call. Returns the resulting account.
func (l *Ledger) GetOrCreate(ctx context.Context, id AccountID, profile Profile) (*Account, error) {
	var result *Account
	err := l.store.Atomic(ctx, func(s Store) error {
		acct, err := s.GetAccount(ctx, id)
		if errors.Is(err, ErrAccountNotFound) {
			now := l.clock.Now()
			acct = &Account{
				ID:        id,
				Balance:   OnboardingBalance,
				Profile:   profile,
				Settings:  DefaultSettings(),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.PutAccount(ctx, acct); err != nil {
				return err
			}
			result = acct
			return nil
		}
		if err != nil {
			return err
		}

		// Existing account: refresh identity fields, keep the stored
		// default model unless the caller supplies a new one.
		acct.Profile.Username = profile.Username
		acct.Profile.FirstName = profile.FirstName
		acct.Profile.LastName = profile.LastName
		if profile.DefaultModel != "" {
			acct.Profile.DefaultModel = profile.DefaultModel
		}
		acct.UpdatedAt = l.clock.Now()
		if err := s.PutAccount(ctx, acct); err != nil {
			return err
		}
		result = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Account loads one account. Read-only.
func (l *Ledger) Account(ctx context.Context, id AccountID) (*Account, error) {
	return l.store.GetAccount(ctx, id)
}

// Balance returns the current balance, or zero if the account does not
// exist. Read-only: never creates.
func (l *Ledger) Balance(ctx context.Context, id AccountID) (Amount, error) {
	acct, err := l.store.GetAccount(ctx, id)
	if errors.Is(err, ErrAccountNotFound) {
		return ZeroAmount(), nil
	}
	if err != nil {
		return ZeroAmount(), err
	}
	return acct.Balance, nil
}

// SetDefaultModel updates the account's preferred generation model.
func (l *Ledger) SetDefaultModel(ctx context.Context, id AccountID, modelID string) error {
	return l.store.Atomic(ctx, func(s Store) error {
		acct, err := s.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		acct.Profile.DefaultModel = modelID
		acct.UpdatedAt = l.clock.Now()
		return s.PutAccount(ctx, acct)
	})
}

// SettingsPatch updates only the fields that are non-nil, mirroring the
// optional-argument shape of the front end's settings command.
type SettingsPatch struct {
	TelegramQuality    *string
	SaveUncompressed   *bool
	NotifyLowCredits   *bool
	LowCreditThreshold *float64
}

const maxLowCreditThreshold = 10000

// UpdateSettings applies a partial settings update and returns the result.
func (l *Ledger) UpdateSettings(ctx context.Context, id AccountID, patch SettingsPatch) (*Settings, error) {
	var result Settings
	err := l.store.Atomic(ctx, func(s Store) error {
		acct, err := s.GetAccount(ctx, id)
		if err != nil {
			return err
		}

		if patch.TelegramQuality != nil {
			q := *patch.TelegramQuality
			if q == QualityCompressed || q == QualityUncompressed {
				acct.Settings.TelegramQuality = q
			}
		}
		if patch.SaveUncompressed != nil {
			acct.Settings.SaveUncompressed = *patch.SaveUncompressed
		}
		if patch.NotifyLowCredits != nil {
			acct.Settings.NotifyLowCredits = *patch.NotifyLowCredits
		}
		if patch.LowCreditThreshold != nil {
			t := *patch.LowCreditThreshold
			if t < 0 {
				t = 0
			}
			if t > maxLowCreditThreshold {
				t = maxLowCreditThreshold
			}
			acct.Settings.LowCreditThreshold = NewAmount(t)
		}

		acct.UpdatedAt = l.clock.Now()
		if err := s.PutAccount(ctx, acct); err != nil {
			return err
		}
		result = acct.Settings
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSettings returns the account's settings.
func (l *Ledger) GetSettings(ctx context.Context, id AccountID) (*Settings, error) {
	acct, err := l.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	settings := acct.Settings
	return &settings, nil
}
