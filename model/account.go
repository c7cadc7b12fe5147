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

import "time"

// Account holds a credit balance that pays for scans. The balance is only
// ever decremented through the ledger's reservation path and is never allowed
// to go negative.
type Account struct {
	AccountID      string                 `json:"account_id"`
	Name           string                 `json:"name"`
	Email          string                 `json:"email"`
	CreditsBalance int64                  `json:"credits_balance"`
	IsActive       bool                   `json:"is_active"`
	CreatedAt      time.Time              `json:"created_at"`
	MetaData       map[string]interface{} `json:"meta_data"`
}
