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

package scanhive

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/scanhive/scanhive/collectors"
	"github.com/scanhive/scanhive/config"
	"github.com/scanhive/scanhive/database"
	"github.com/scanhive/scanhive/internal/cache"
	redis_db "github.com/scanhive/scanhive/internal/redis-db"
)

// Scanhive represents the main struct for the Scanhive application.
type Scanhive struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	registry   *collectors.Registry
	bus        EventBus
	gateway    *Gateway
	cache      cache.Cache
}

// NewScanhive initializes a new instance of Scanhive with the provided database datasource.
// It fetches the configuration and wires up the Redis client, task queue, collector
// registry, event bus and the live notification gateway.
//
// Parameters:
// - db database.IDataSource: The datasource for database operations.
//
// Returns:
// - *Scanhive: A pointer to the newly created Scanhive instance.
// - error: An error if any of the initialization steps fail.
func NewScanhive(db database.IDataSource) (*Scanhive, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}

	newQueue := NewQueue(configuration)
	bus := NewRedisEventBus(redisClient.Client())
	cacheStore, err := cache.NewCache()
	if err != nil {
		logrus.Warnf("scan cache unavailable, continuing without it: %v", err)
	}
	newScanhive := &Scanhive{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		registry:   collectors.NewDefaultRegistry(),
		bus:        bus,
		gateway:    NewGateway(bus),
		cache:      cacheStore,
	}
	return newScanhive, nil
}

// Registry exposes the collector registry for catalog listings.
func (s *Scanhive) Registry() *collectors.Registry {
	return s.registry
}

// Gateway exposes the live notification gateway for WebSocket handlers.
func (s *Scanhive) Gateway() *Gateway {
	return s.gateway
}
