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
package model

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/scanhive/scanhive/model"
)

// SubmitScan is the admission request for a new scan.
type SubmitScan struct {
	Target    string                 `json:"target"`
	Collector string                 `json:"collector"`
	MetaData  map[string]interface{} `json:"meta_data,omitempty"`
}

func (s *SubmitScan) ValidateSubmitScan() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Target, validation.Required, validation.Length(1, 255)),
		validation.Field(&s.Collector, validation.Required),
	)
}

// SubmitScanResponse acknowledges an admitted scan.
type SubmitScanResponse struct {
	ScanID           string `json:"scan_id"`
	Status           string `json:"status"`
	Target           string `json:"target"`
	Collector        string `json:"collector"`
	Cost             int64  `json:"cost"`
	CreditsRemaining int64  `json:"credits_remaining"`
}

// CreateAccount provisions an account, optionally with starting credits.
type CreateAccount struct {
	Name            string                 `json:"name"`
	Email           string                 `json:"email"`
	StartingCredits int64                  `json:"starting_credits"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"`
}

func (a *CreateAccount) ValidateCreateAccount() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Name, validation.Required),
		validation.Field(&a.Email, validation.Required, is.Email),
		validation.Field(&a.StartingCredits, validation.Min(int64(0))),
	)
}

func (a *CreateAccount) ToAccount() model.Account {
	return model.Account{
		Name:           a.Name,
		Email:          a.Email,
		CreditsBalance: a.StartingCredits,
		MetaData:       a.MetaData,
	}
}

// TopUpCredits adds credits to an account out of band.
type TopUpCredits struct {
	Amount int64 `json:"amount"`
}

func (tp *TopUpCredits) ValidateTopUpCredits() error {
	return validation.ValidateStruct(tp,
		validation.Field(&tp.Amount, validation.Required, validation.Min(int64(1))),
	)
}

// HistoryPage is the paginated audit listing.
type HistoryPage struct {
	Items    []model.ScanTask `json:"items"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Pages    int64            `json:"pages"`
}
