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

package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/scanhive/scanhive/model"
)

const crtshAPIURL = "https://crt.sh/"

// CT logs can be slow to query.
const crtshTimeout = 15 * time.Second

// CrtshCollector discovers subdomains through Certificate Transparency
// logs via the crt.sh API.
type CrtshCollector struct {
	client  *http.Client
	baseURL string
}

func NewCrtshCollector() *CrtshCollector {
	return &CrtshCollector{
		client:  &http.Client{Timeout: crtshTimeout},
		baseURL: crtshAPIURL,
	}
}

func (c *CrtshCollector) Name() string { return "crtsh" }

func (c *CrtshCollector) Description() string {
	return "Discovers subdomains from Certificate Transparency logs via crt.sh"
}

func (c *CrtshCollector) Collect(ctx context.Context, target string) (*model.CollectorResult, error) {
	query := url.Values{}
	query.Set("q", fmt.Sprintf("%%.%s", target))
	query.Set("output", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable.
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("crt.sh returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return newResult(c.Name(), target, false, map[string]interface{}{"subdomains": []string{}},
			fmt.Sprintf("crt.sh returned status %d", resp.StatusCode), nil), nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var certificates []map[string]interface{}
	if err := json.Unmarshal(body, &certificates); err != nil {
		return newResult(c.Name(), target, false, map[string]interface{}{"subdomains": []string{}},
			"Invalid JSON response from crt.sh", nil), nil
	}

	subdomains := extractSubdomains(certificates, target)

	metadata := map[string]interface{}{
		"source":             "crt.sh",
		"certificates_found": len(certificates),
		"unique_subdomains":  len(subdomains),
		"api_endpoint":       c.baseURL,
	}
	data := map[string]interface{}{
		"subdomains":  subdomains,
		"total_count": len(subdomains),
	}
	return newResult(c.Name(), target, true, data, "", metadata), nil
}

// extractSubdomains cleans certificate name entries down to unique
// subdomains of the target. Wildcard prefixes are stripped and the target
// itself is excluded.
func extractSubdomains(certificates []map[string]interface{}, target string) []string {
	target = strings.ToLower(target)
	seen := map[string]struct{}{}

	for _, cert := range certificates {
		nameValue, _ := cert["name_value"].(string)
		if nameValue == "" {
			continue
		}

		// name_value can hold multiple domains separated by newlines.
		for _, domain := range strings.Split(nameValue, "\n") {
			domain = strings.ToLower(strings.TrimSpace(domain))
			if domain == "" {
				continue
			}
			domain = strings.TrimPrefix(domain, "*.")
			if domain == target {
				continue
			}
			if strings.HasSuffix(domain, "."+target) {
				seen[domain] = struct{}{}
			}
		}
	}

	subdomains := make([]string, 0, len(seen))
	for domain := range seen {
		subdomains = append(subdomains, domain)
	}
	sort.Strings(subdomains)
	return subdomains
}
