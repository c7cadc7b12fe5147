/*
Copyright 2025 Scanhive Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package scanhive

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/scanhive/scanhive/internal/apierror"
	"github.com/scanhive/scanhive/model"
)

// CreateAccount provisions a new account, optionally with a starting credit
// balance. Email uniqueness is enforced by the store.
func (s *Scanhive) CreateAccount(account model.Account) (model.Account, error) {
	if account.Name == "" {
		return model.Account{}, apierror.NewAPIError(apierror.ErrInvalidInput, "Account name is required", nil)
	}
	if account.CreditsBalance < 0 {
		return model.Account{}, apierror.NewAPIError(apierror.ErrInvalidInput, "Starting balance cannot be negative", nil)
	}
	return s.datasource.CreateAccount(account)
}

// GetAccount fetches one account by ID.
func (s *Scanhive) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	return s.datasource.GetAccountByID(ctx, accountID)
}

// GetAllAccounts pages through accounts for operational tooling.
func (s *Scanhive) GetAllAccounts(limit, offset int) ([]model.Account, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.datasource.GetAllAccounts(limit, offset)
}

// TopUpCredits adds credits to an account out of band. Scans only ever
// deduct; this is the admin path for putting credits back in.
func (s *Scanhive) TopUpCredits(ctx context.Context, accountID string, amount int64) (int64, error) {
	newBalance, err := s.datasource.TopUpCredits(ctx, accountID, amount)
	if err != nil {
		return 0, err
	}
	logrus.Infof("topped up account %s by %d, new balance %d", accountID, amount, newBalance)
	return newBalance, nil
}

// AuthorizeAccount loads an account and verifies it may submit work.
// Deactivated accounts are rejected with Forbidden.
func (s *Scanhive) AuthorizeAccount(ctx context.Context, accountID string) (*model.Account, error) {
	if accountID == "" {
		return nil, apierror.NewAPIError(apierror.ErrUnauthorized, "X-Account-Id header is required", nil)
	}
	account, err := s.datasource.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, fmt.Sprintf("Account '%s' is deactivated", accountID), nil)
	}
	return account, nil
}
