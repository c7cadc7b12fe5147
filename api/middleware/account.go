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
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/scanhive/scanhive/internal/apierror"
	"github.com/scanhive/scanhive/model"
)

// AccountAuthorizer resolves and vets the account named by the request.
type AccountAuthorizer interface {
	AuthorizeAccount(ctx context.Context, accountID string) (*model.Account, error)
}

// AccountMiddleware handles per-account authentication for scan routes. The
// caller identifies itself with the X-Account-Id header; the account must
// exist and be active.
type AccountMiddleware struct {
	service AccountAuthorizer
}

func NewAccountMiddleware(service AccountAuthorizer) *AccountMiddleware {
	return &AccountMiddleware{service: service}
}

// Authenticate loads the calling account and stores it on the context under
// "account". Missing header is 401, unknown account 404, deactivated 403.
func (m *AccountMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetHeader(AccountHeader)
		account, err := m.service.AuthorizeAccount(c.Request.Context(), accountID)
		if err != nil {
			if apiErr, ok := err.(apierror.APIError); ok {
				c.AbortWithStatusJSON(apierror.MapErrorToHTTPStatus(err), apiErr)
				return
			}
			c.AbortWithStatusJSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.Set("account", account)
		c.Next()
	}
}

// AccountFromContext returns the account resolved by Authenticate.
func AccountFromContext(c *gin.Context) (*model.Account, bool) {
	value, ok := c.Get("account")
	if !ok {
		return nil, false
	}
	account, ok := value.(*model.Account)
	return account, ok
}
