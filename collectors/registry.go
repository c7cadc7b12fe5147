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
	"fmt"
	"sort"
	"strings"

	"github.com/scanhive/scanhive/internal/apierror"
)

// Registry is the closed set of collectors available to scans. Collectors
// are registered once at startup; lookups of unknown names fail rather
// than falling back.
type Registry struct {
	collectors map[string]Collector
}

func NewRegistry() *Registry {
	return &Registry{collectors: map[string]Collector{}}
}

// NewDefaultRegistry returns a registry with every built-in collector.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewDNSCollector())
	r.Register(NewWhoisCollector())
	r.Register(NewCrtshCollector())
	r.Register(NewUsernameCollector())
	return r
}

// Register adds a collector under its lowercased name.
func (r *Registry) Register(c Collector) {
	r.collectors[strings.ToLower(c.Name())] = c
}

// Get resolves a collector by name. Unknown names are a bad-request error
// that lists what is available.
func (r *Registry) Get(name string) (Collector, error) {
	c, ok := r.collectors[strings.ToLower(name)]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest,
			fmt.Sprintf("Unknown collector '%s'. Available: %s", name, strings.Join(r.List(), ", ")), nil)
	}
	return c, nil
}

// Has reports whether a collector is registered under the given name.
func (r *Registry) Has(name string) bool {
	_, ok := r.collectors[strings.ToLower(name)]
	return ok
}

// List returns the registered collector names in sorted order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns name/description pairs for the catalog endpoint.
func (r *Registry) Describe() map[string]string {
	out := make(map[string]string, len(r.collectors))
	for name, c := range r.collectors {
		out[name] = c.Description()
	}
	return out
}
