// Package contract defines the bus topics, payload shapes, and topic
// pattern matching that adapters and the hub exchange. Payloads are
// UTF-8 JSON; unknown fields are tolerated on decode, missing required
// fields are a decode error.
package contract

import "github.com/google/uuid"

// Fixed topic names. Topics are case-sensitive ASCII and use "." as
// the hierarchy separator.
const (
	TopicDeviceAnnounce = "krypin.device.announce"
	TopicEntityAnnounce = "krypin.entity.announce"
	TopicHeartbeat      = "krypin.hub.heartbeat"

	// Per-entity topics are the prefix plus the entity id.
	TopicStateUpdatePrefix = "krypin.state.update."
	TopicCommandPrefix     = "krypin.command."
)

// TopicStateUpdateAll matches every per-entity state update topic.
const TopicStateUpdateAll = TopicStateUpdatePrefix + "*"

// StateUpdateTopic returns the state update topic for one entity.
func StateUpdateTopic(entityID uuid.UUID) string {
	return TopicStateUpdatePrefix + entityID.String()
}

// CommandTopic returns the command topic for one entity.
func CommandTopic(entityID uuid.UUID) string {
	return TopicCommandPrefix + entityID.String()
}
