// Copyright 2024-2025 FlowSpec
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bus

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/jakekausler/campaign-manager-rules/internal/cache"
	"github.com/jakekausler/campaign-manager-rules/internal/coordinator"
	"github.com/jakekausler/campaign-manager-rules/internal/models"
)

// conditionPrefix mirrors the engine's cache-key node prefix for
// conditions; kept local to avoid an import cycle with internal/engine.
const conditionPrefix = string(models.NodeCondition) + ":"

// Dispatcher wires incoming bus messages into the cache and graph
// coordinator, per spec's channel/action table:
//
//	condition.created  -> invalidate graph only
//	condition.updated  -> invalidate cache entry + graph
//	condition.deleted  -> invalidate cache entry + graph
//	variable.created   -> invalidate graph only
//	variable.updated   -> invalidate cache by prefix (values changed, structure didn't)
//	variable.deleted   -> invalidate cache by prefix + graph
type Dispatcher struct {
	cache       *cache.Cache
	coordinator *coordinator.Coordinator
	logger      *logrus.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(c *cache.Cache, coord *coordinator.Coordinator, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{cache: c, coordinator: coord, logger: logger}
}

// Handle implements Handler.
func (d *Dispatcher) Handle(channel string, msg Message) {
	log := d.logger.WithFields(logrus.Fields{
		"channel":    channel,
		"campaignId": msg.CampaignID,
		"branchId":   msg.BranchID,
		"entityId":   msg.EntityID,
	})

	switch channel {
	case ChannelConditionCreated:
		d.coordinator.InvalidateGraph(msg.CampaignID, msg.BranchID)
	case ChannelConditionUpdated, ChannelConditionDeleted:
		d.cache.Invalidate(cache.EncodeKey(msg.CampaignID, msg.BranchID, conditionPrefix+msg.EntityID))
		d.coordinator.InvalidateGraph(msg.CampaignID, msg.BranchID)
	case ChannelVariableCreated:
		d.coordinator.InvalidateGraph(msg.CampaignID, msg.BranchID)
	case ChannelVariableUpdated:
		d.cache.InvalidateByPrefix(msg.CampaignID, msg.BranchID)
	case ChannelVariableDeleted:
		d.cache.InvalidateByPrefix(msg.CampaignID, msg.BranchID)
		d.coordinator.InvalidateGraph(msg.CampaignID, msg.BranchID)
	default:
		log.Warn("bus: no handler registered for channel")
		return
	}
	log.Debug("bus: dispatched invalidation event")
}

// Run subscribes b to every channel and dispatches through d until ctx
// is canceled.
func (d *Dispatcher) Run(ctx context.Context, b Bus) error {
	return b.Subscribe(ctx, d.Handle)
}
