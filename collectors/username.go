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
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scanhive/scanhive/model"
)

// Realistic browser User-Agent to avoid bot detection.
const usernameUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

const usernamePlatformTimeout = 5 * time.Second

// defaultPlatforms maps platform names to profile URL patterns.
var defaultPlatforms = map[string]string{
	"GitHub":    "https://github.com/%s",
	"Twitter":   "https://twitter.com/%s",
	"Reddit":    "https://www.reddit.com/user/%s",
	"Instagram": "https://www.instagram.com/%s",
	"Twitch":    "https://www.twitch.tv/%s",
	"Pinterest": "https://www.pinterest.com/%s",
}

// UsernameCollector probes social platforms for a username, checking all
// platforms concurrently. A 200 response means the profile exists; probe
// failures on individual platforms report exists=false rather than failing
// the whole collection.
type UsernameCollector struct {
	client    *http.Client
	platforms map[string]string
}

func NewUsernameCollector() *UsernameCollector {
	return &UsernameCollector{
		client:    &http.Client{Timeout: usernamePlatformTimeout},
		platforms: defaultPlatforms,
	}
}

func (c *UsernameCollector) Name() string { return "username" }

func (c *UsernameCollector) Description() string {
	return "Checks username presence across social media platforms"
}

func (c *UsernameCollector) Collect(ctx context.Context, target string) (*model.CollectorResult, error) {
	username := strings.TrimSpace(target)
	if username == "" {
		return newResult(c.Name(), target, false, map[string]interface{}{"profiles": []interface{}{}},
			"Username cannot be empty", nil), nil
	}

	results := c.checkAllPlatforms(ctx, username)

	var found, notFound []map[string]interface{}
	for _, r := range results {
		if r["exists"] == true {
			found = append(found, r)
		} else {
			notFound = append(notFound, r)
		}
	}

	platformNames := make([]string, 0, len(c.platforms))
	for name := range c.platforms {
		platformNames = append(platformNames, name)
	}
	sort.Strings(platformNames)

	data := map[string]interface{}{
		"username":        username,
		"profiles":        results,
		"found":           found,
		"not_found":       notFound,
		"total_platforms": len(results),
		"found_count":     len(found),
	}
	metadata := map[string]interface{}{
		"platforms_checked":    platformNames,
		"timeout_per_platform": usernamePlatformTimeout.Seconds(),
	}
	return newResult(c.Name(), username, true, data, "", metadata), nil
}

// checkAllPlatforms probes every platform concurrently and returns the
// per-platform outcomes sorted by platform name.
func (c *UsernameCollector) checkAllPlatforms(ctx context.Context, username string) []map[string]interface{} {
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make([]map[string]interface{}, 0, len(c.platforms))

	for platform, pattern := range c.platforms {
		wg.Add(1)
		go func(platform, pattern string) {
			defer wg.Done()
			result := c.checkPlatform(ctx, platform, pattern, username)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(platform, pattern)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i]["platform"].(string) < results[j]["platform"].(string)
	})
	return results
}

func (c *UsernameCollector) checkPlatform(ctx context.Context, platform, pattern, username string) map[string]interface{} {
	profileURL := fmt.Sprintf(pattern, username)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, nil)
	if err != nil {
		return map[string]interface{}{
			"platform":   platform,
			"url":        profileURL,
			"exists":     false,
			"error":      err.Error(),
			"confidence": 0.0,
		}
	}
	req.Header.Set("User-Agent", usernameUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return map[string]interface{}{
			"platform":   platform,
			"url":        profileURL,
			"exists":     false,
			"error":      err.Error(),
			"confidence": 0.0,
		}
	}
	defer resp.Body.Close()

	exists := resp.StatusCode == http.StatusOK
	confidence := 0.0
	if exists {
		confidence = 1.0
	}
	return map[string]interface{}{
		"platform":    platform,
		"url":         profileURL,
		"exists":      exists,
		"status_code": resp.StatusCode,
		"confidence":  confidence,
	}
}
