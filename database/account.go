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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/scanhive/scanhive/internal/apierror"
	"github.com/scanhive/scanhive/model"
)

// CreateAccount inserts a new Account into the database.
// This function handles metadata serialization and database insertion.
// Parameters:
// - account: The account model containing name, email, opening credit balance and metadata.
// Returns:
// - model.Account: The created account with the assigned account ID and creation timestamp.
// - error: Returns an error if any issue occurs while marshalling metadata or executing the database query.
func (d Datasource) CreateAccount(account model.Account) (model.Account, error) {
	// Serialize metadata into JSON
	metaDataJSON, err := json.Marshal(account.MetaData)
	if err != nil {
		return account, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	// Generate a unique account ID and assign the current time for the account creation
	account.AccountID = model.GenerateUUIDWithSuffix("acc")
	account.CreatedAt = time.Now()
	account.IsActive = true

	_, err = d.Conn.Exec(`
		INSERT INTO accounts (account_id, name, email, credits_balance, is_active, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, account.AccountID, account.Name, account.Email, account.CreditsBalance, account.IsActive, account.CreatedAt, metaDataJSON)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return model.Account{}, apierror.NewAPIError(apierror.ErrConflict, "Account with this email already exists", err)
			default:
				return model.Account{}, apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
			}
		}
		return model.Account{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create account", err)
	}

	return account, nil
}

// GetAccountByID retrieves an account by its ID from the database.
// Parameters:
// - ctx: Context for query cancellation.
// - id: The ID of the account to retrieve.
// Returns:
// - A pointer to the retrieved Account or an APIError if the account is not found.
func (d Datasource) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT account_id, name, email, credits_balance, is_active, created_at, meta_data
		FROM accounts
		WHERE account_id = $1
	`, id)

	account := model.Account{}
	var metaDataJSON []byte
	err := row.Scan(&account.AccountID, &account.Name, &account.Email, &account.CreditsBalance, &account.IsActive, &account.CreatedAt, &metaDataJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve account", err)
	}

	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &account.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}

	return &account, nil
}

// GetAllAccounts retrieves accounts from the database with pagination.
func (d Datasource) GetAllAccounts(limit, offset int) ([]model.Account, error) {
	rows, err := d.Conn.Query(`
		SELECT account_id, name, email, credits_balance, is_active, created_at, meta_data
		FROM accounts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve accounts", err)
	}
	defer func() { _ = rows.Close() }()

	accounts := []model.Account{}
	for rows.Next() {
		account := model.Account{}
		var metaDataJSON []byte
		err = rows.Scan(&account.AccountID, &account.Name, &account.Email, &account.CreditsBalance, &account.IsActive, &account.CreatedAt, &metaDataJSON)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan account data", err)
		}
		if len(metaDataJSON) > 0 {
			if err := json.Unmarshal(metaDataJSON, &account.MetaData); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
			}
		}
		accounts = append(accounts, account)
	}

	return accounts, nil
}

// TopUpCredits adds credits to an account's balance and returns the new balance.
func (d Datasource) TopUpCredits(ctx context.Context, accountID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, apierror.NewAPIError(apierror.ErrBadRequest, "Top-up amount must be positive", nil)
	}

	var newBalance int64
	err := d.Conn.QueryRowContext(ctx, `
		UPDATE accounts
		SET credits_balance = credits_balance + $1
		WHERE account_id = $2
		RETURNING credits_balance
	`, amount, accountID).Scan(&newBalance)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account with ID '%s' not found", accountID), err)
		}
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to top up credits", err)
	}

	return newBalance, nil
}

// ReserveCredits atomically deducts credits from an account. The row is
// locked for the duration of the transaction so concurrent reservations
// against the same account serialize; the balance can never go negative.
// Returns the remaining balance after the deduction.
func (d Datasource) ReserveCredits(ctx context.Context, accountID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, apierror.NewAPIError(apierror.ErrBadRequest, "Reservation amount must be positive", nil)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var balance int64
	var isActive bool
	err = tx.QueryRowContext(ctx, `
		SELECT credits_balance, is_active FROM accounts WHERE account_id = $1 FOR UPDATE
	`, accountID).Scan(&balance, &isActive)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account with ID '%s' not found", accountID), err)
		}
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock account balance", err)
	}

	if !isActive {
		return balance, apierror.NewAPIError(apierror.ErrForbidden, "Account is deactivated", nil)
	}

	if balance < amount {
		return balance, apierror.NewInsufficientCredits(amount, balance)
	}

	newBalance := balance - amount
	_, err = tx.ExecContext(ctx, `
		UPDATE accounts SET credits_balance = $1 WHERE account_id = $2
	`, newBalance, accountID)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to deduct credits", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit credit reservation", err)
	}

	return newBalance, nil
}
