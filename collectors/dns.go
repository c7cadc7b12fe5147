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
	"net"

	"github.com/scanhive/scanhive/model"
)

// DNSCollector resolves the common record types for a domain. Record types
// that fail to resolve are simply omitted; the collection as a whole only
// fails when the resolver itself is unreachable.
type DNSCollector struct {
	resolver *net.Resolver
}

func NewDNSCollector() *DNSCollector {
	return &DNSCollector{resolver: net.DefaultResolver}
}

func (c *DNSCollector) Name() string { return "dns" }

func (c *DNSCollector) Description() string {
	return "Resolves A, AAAA, MX, NS, TXT and CNAME records for a domain"
}

func (c *DNSCollector) Collect(ctx context.Context, target string) (*model.CollectorResult, error) {
	records := map[string]interface{}{}

	ips, err := c.resolver.LookupIPAddr(ctx, target)
	if err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok && (dnsErr.IsTimeout || dnsErr.IsTemporary) {
			// Resolver unreachable, worth retrying.
			return nil, err
		}
	} else {
		var a, aaaa []string
		for _, ip := range ips {
			if v4 := ip.IP.To4(); v4 != nil {
				a = append(a, v4.String())
			} else {
				aaaa = append(aaaa, ip.IP.String())
			}
		}
		if len(a) > 0 {
			records["A"] = a
		}
		if len(aaaa) > 0 {
			records["AAAA"] = aaaa
		}
	}

	if mxs, err := c.resolver.LookupMX(ctx, target); err == nil {
		var mx []string
		for _, m := range mxs {
			mx = append(mx, m.Host)
		}
		records["MX"] = mx
	}

	if nss, err := c.resolver.LookupNS(ctx, target); err == nil {
		var ns []string
		for _, n := range nss {
			ns = append(ns, n.Host)
		}
		records["NS"] = ns
	}

	if txts, err := c.resolver.LookupTXT(ctx, target); err == nil && len(txts) > 0 {
		records["TXT"] = txts
	}

	if cname, err := c.resolver.LookupCNAME(ctx, target); err == nil && cname != "" {
		records["CNAME"] = []string{cname}
	}

	return newResult(c.Name(), target, true, map[string]interface{}{"records": records}, "", nil), nil
}
