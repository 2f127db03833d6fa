package adapter

import "github.com/google/uuid"

// DeviceMeta describes the device a component announces. Zigbee, when
// set, is flattened into the announce metadata under the "zigbee" key.
type DeviceMeta struct {
	ID           uuid.UUID
	Name         string
	Adapter      string
	Manufacturer *string
	Model        *string
	SWVersion    *string
	HWVersion    *string
	Area         *uuid.UUID
	Metadata     map[string]any
	Zigbee       *ZigbeeInfo
}

// MetadataMap builds the announce metadata. The result is never nil and
// never aliases the Metadata field.
func (d DeviceMeta) MetadataMap() map[string]any {
	metadata := make(map[string]any, len(d.Metadata)+1)
	for k, v := range d.Metadata {
		metadata[k] = v
	}
	if d.Zigbee != nil {
		metadata["zigbee"] = d.Zigbee.metadataValue()
	}
	return metadata
}

// EntityMeta describes the entity a component announces. The domain is
// not part of the meta; each component announces its own.
type EntityMeta struct {
	ID         uuid.UUID
	Name       string
	Icon       *string
	Key        *string
	Attributes map[string]any
}

// AttributesMap returns a copy of the announce attributes, never nil.
func (e EntityMeta) AttributesMap() map[string]any {
	attrs := make(map[string]any, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return attrs
}
