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
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/scanhive/scanhive/model"
)

const (
	defaultWhoisServer = "whois.iana.org:43"
	whoisDialTimeout   = 10 * time.Second
)

// WhoisCollector queries the WHOIS protocol (RFC 3912) for registration
// data. It asks IANA first and follows one referral to the authoritative
// registry for the TLD.
type WhoisCollector struct {
	server string
}

func NewWhoisCollector() *WhoisCollector {
	return &WhoisCollector{server: defaultWhoisServer}
}

func (c *WhoisCollector) Name() string { return "whois" }

func (c *WhoisCollector) Description() string {
	return "Queries WHOIS registration data for a domain"
}

func (c *WhoisCollector) Collect(ctx context.Context, target string) (*model.CollectorResult, error) {
	response, err := c.query(ctx, c.server, target)
	if err != nil {
		// Connection-level failures are infrastructure faults.
		return nil, err
	}

	server := c.server
	if referral := extractReferral(response); referral != "" {
		followed, err := c.query(ctx, referral, target)
		if err == nil {
			response = followed
			server = referral
		}
	}

	fields := parseWhoisFields(response)
	if len(fields) == 0 {
		return newResult(c.Name(), target, false, map[string]interface{}{},
			fmt.Sprintf("No WHOIS data found for '%s'", target), nil), nil
	}

	data := map[string]interface{}{
		"domain": target,
		"fields": fields,
		"raw":    response,
	}
	metadata := map[string]interface{}{
		"server": server,
	}
	return newResult(c.Name(), target, true, data, "", metadata), nil
}

func (c *WhoisCollector) query(ctx context.Context, server, target string) (string, error) {
	dialer := net.Dialer{Timeout: whoisDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", server)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(whoisDialTimeout))
	}

	if _, err := fmt.Fprintf(conn, "%s\r\n", target); err != nil {
		return "", err
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// extractReferral finds the "refer:" line IANA returns for delegated TLDs.
func extractReferral(response string) string {
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "refer:") || strings.HasPrefix(lower, "whois:") {
			host := strings.TrimSpace(trimmed[strings.Index(trimmed, ":")+1:])
			if host == "" {
				continue
			}
			if !strings.Contains(host, ":") {
				host += ":43"
			}
			return host
		}
	}
	return ""
}

// parseWhoisFields pulls key/value lines out of a WHOIS response. Repeated
// keys (nameservers, statuses) accumulate into slices.
func parseWhoisFields(response string) map[string]interface{} {
	fields := map[string]interface{}{}
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "%") || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ">>>") {
			continue
		}
		idx := strings.Index(trimmed, ":")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(trimmed[:idx]))
		value := strings.TrimSpace(trimmed[idx+1:])
		if value == "" {
			continue
		}
		switch existing := fields[key].(type) {
		case nil:
			fields[key] = value
		case string:
			fields[key] = []string{existing, value}
		case []string:
			fields[key] = append(existing, value)
		}
	}
	return fields
}
