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

// Package bus consumes invalidation events published on six logical
// channels (condition/variable created/updated/deleted) and dispatches
// them against the cache and graph coordinator.
package bus

import (
	"context"
	"encoding/json"
)

// Channel names as published by the authoritative store's change feed.
const (
	ChannelConditionCreated = "condition.created"
	ChannelConditionUpdated = "condition.updated"
	ChannelConditionDeleted = "condition.deleted"
	ChannelVariableCreated  = "variable.created"
	ChannelVariableUpdated  = "variable.updated"
	ChannelVariableDeleted  = "variable.deleted"
)

// Channels lists every channel the subscriber subscribes to.
var Channels = []string{
	ChannelConditionCreated,
	ChannelConditionUpdated,
	ChannelConditionDeleted,
	ChannelVariableCreated,
	ChannelVariableUpdated,
	ChannelVariableDeleted,
}

// Message is the decoded payload of one invalidation event.
type Message struct {
	CampaignID string `json:"campaignId"`
	BranchID   string `json:"branchId"`
	EntityID   string `json:"entityId"`
	Timestamp  string `json:"timestamp"`
}

// Bus is the subscribe-and-receive interface the engine's invalidation
// path consumes. Implementations own their own reconnection policy.
type Bus interface {
	// Subscribe registers handler to be invoked, synchronously and on
	// the bus's own dispatch goroutine, for every message received on
	// any channel in Channels. Subscribe blocks until ctx is canceled
	// or an unrecoverable error occurs.
	Subscribe(ctx context.Context, handler Handler) error
	// Close releases the underlying connection.
	Close() error
}

// Handler processes one decoded invalidation event for channel.
type Handler func(channel string, msg Message)

// ParseMessage validates and decodes a raw bus payload. It returns an
// error for malformed JSON or a missing campaignId; callers must log
// and drop on error rather than propagate it, per spec's "missing
// campaignId, malformed JSON, or unknown channel names are logged and
// dropped."
func ParseMessage(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, err
	}
	if msg.CampaignID == "" {
		return Message{}, errMissingCampaignID
	}
	if msg.BranchID == "" {
		msg.BranchID = "main"
	}
	return msg, nil
}

var errMissingCampaignID = missingCampaignIDError{}

type missingCampaignIDError struct{}

func (missingCampaignIDError) Error() string { return "bus message missing campaignId" }

// IsKnownChannel reports whether channel is one bus.Channels lists.
func IsKnownChannel(channel string) bool {
	for _, c := range Channels {
		if c == channel {
			return true
		}
	}
	return false
}
