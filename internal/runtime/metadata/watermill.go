package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies a Watermill metadata map into a relay Metadata. The
// result is always non-nil and safe to mutate.
func FromWatermill(md message.Metadata) Metadata {
	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill copies relay Metadata into the map Watermill messages carry.
func ToWatermill(metadata Metadata) message.Metadata {
	wm := make(message.Metadata, len(metadata))
	for k, v := range metadata {
		wm[k] = v
	}
	return wm
}
