package groupnet

import (
	"time"
)

// WaitForever makes Send and Recv wait without a deadline.
const WaitForever time.Duration = -1

// Defaults.
const (
	DefaultBufferSize   = 512
	DefaultBeaconPeriod = 200 * time.Millisecond
	DefaultTimerWait    = 100 * time.Millisecond
	DefaultChannel      = 1
)

// ChannelKey is the store key of the radio channel.
const ChannelKey = "channel"

// Config configures a Node.
type Config struct {
	// Channel is the radio channel, 0 uses the stored channel.
	Channel int `yaml:"channel"`
	// StorePath is the persistent store file, empty keeps it in memory.
	StorePath string `yaml:"store"`

	SendBufferSize int           `yaml:"send-buffer"`
	RecvBufferSize int           `yaml:"recv-buffer"`
	BeaconPeriod   time.Duration `yaml:"beacon-period"`
	// TimerWait bounds how long the beacon timer waits for send ring
	// space and how long GroupOpen waits for the timer.
	TimerWait time.Duration `yaml:"timer-wait"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		SendBufferSize: DefaultBufferSize,
		RecvBufferSize: DefaultBufferSize,
		BeaconPeriod:   DefaultBeaconPeriod,
		TimerWait:      DefaultTimerWait,
	}
}
