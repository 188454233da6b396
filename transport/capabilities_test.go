package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_RequiresDLQEmulation(t *testing.T) {
	tests := []struct {
		name          string
		caps          Capabilities
		wantEmulation bool
	}{
		{
			name:          "supports native DLQ",
			caps:          Capabilities{SupportsNativeDLQ: true},
			wantEmulation: false,
		},
		{
			name:          "no native DLQ support",
			caps:          Capabilities{SupportsNativeDLQ: false},
			wantEmulation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantEmulation, tt.caps.RequiresDLQEmulation())
		})
	}
}

func TestCapabilities_SupportsReliableDelivery(t *testing.T) {
	assert.True(t, ChannelCapabilities.SupportsReliableDelivery())
	assert.False(t, KafkaCapabilities.SupportsReliableDelivery(), "kafka commits offsets, it cannot nack")
}

func TestPredefinedCapabilities(t *testing.T) {
	for _, caps := range []Capabilities{ChannelCapabilities, KafkaCapabilities} {
		t.Run(caps.Name, func(t *testing.T) {
			assert.True(t, caps.PreservesKeyOrder)
			assert.True(t, caps.RequiresDLQEmulation())
		})
	}
	assert.True(t, KafkaCapabilities.CrossProcess)
	assert.True(t, KafkaCapabilities.SupportsPartitioning)
	assert.False(t, ChannelCapabilities.CrossProcess)
}

func TestRegistry_Capabilities(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, Capabilities{}, reg.GetCapabilities("kafka"))

	reg.RegisterCapabilities("kafka", Capabilities{Name: "ignored", PreservesKeyOrder: true})
	got := reg.GetCapabilities("kafka")
	assert.Equal(t, "kafka", got.Name)
	assert.True(t, got.PreservesKeyOrder)
}
