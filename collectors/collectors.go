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

// Package collectors holds the OSINT collection routines a scan can run.
// Collectors distinguish two failure modes: a tagged CollectorResult with
// Success=false is a business outcome and is terminal, while a returned
// error signals an infrastructure fault the executor may retry.
package collectors

import (
	"context"
	"time"

	"github.com/scanhive/scanhive/model"
)

// Collector is one OSINT collection routine.
type Collector interface {
	Name() string
	Description() string
	Collect(ctx context.Context, target string) (*model.CollectorResult, error)
}

// newResult builds a tagged result carrying the collector outcome.
func newResult(name, target string, success bool, data map[string]interface{}, errMessage string, metadata map[string]interface{}) *model.CollectorResult {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &model.CollectorResult{
		ID:            model.GenerateUUIDWithSuffix("res"),
		CollectorName: name,
		Target:        target,
		Success:       success,
		Data:          data,
		Error:         errMessage,
		Timestamp:     time.Now(),
		MetaData:      metadata,
	}
}
