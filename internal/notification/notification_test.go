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

package notification

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/scanhive/scanhive/config"
)

func TestSlackNotification(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	config.MockConfig(&config.Configuration{
		Notification: config.Notification{
			Slack: config.SlackWebhook{
				WebhookUrl: "http://slack.example.com/webhook",
			},
		},
	})

	var capturedBody string
	httpmock.RegisterResponder("POST", "http://slack.example.com/webhook",
		func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			capturedBody = string(body)
			return httpmock.NewStringResponse(200, `{}`), nil
		})

	SlackNotification(errors.New("collector timed out"))

	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	assert.True(t, strings.Contains(capturedBody, "collector timed out"))
	assert.True(t, strings.Contains(capturedBody, "Error From Scanhive"))
}

func TestSlackNotification_NoWebhookConfigured(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	config.MockConfig(&config.Configuration{})

	// NotifyError should not attempt the Slack call when no webhook is set.
	NotifyError(errors.New("some error"))

	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}
