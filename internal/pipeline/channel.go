package pipeline

import (
	"database/sql/driver"
	"fmt"
)

// Channel is the sales channel a production quantity is earmarked for
type Channel uint8

const (
	ChannelUnknown Channel = iota
	ChannelAmazonVendor
	ChannelOwnSite
	ChannelAmazonSeller
)

var channelNames = [...]string{
	ChannelUnknown:      "",
	ChannelAmazonVendor: "Amazon-Vendor",
	ChannelOwnSite:      "Own-Site",
	ChannelAmazonSeller: "Amazon-Seller",
}

var channelAliases = map[string]Channel{
	"amazonvendor": ChannelAmazonVendor,
	"vendor":       ChannelAmazonVendor,
	"ownsite":      ChannelOwnSite,
	"site":         ChannelOwnSite,
	"sito":         ChannelOwnSite,
	"amazonseller": ChannelAmazonSeller,
	"seller":       ChannelAmazonSeller,
}

// Channels returns every channel
func Channels() []Channel {
	return []Channel{ChannelAmazonVendor, ChannelOwnSite, ChannelAmazonSeller}
}

// String returns the canonical channel tag
func (c Channel) String() string {
	if int(c) < len(channelNames) {
		return channelNames[c]
	}
	return fmt.Sprintf("Channel(%d)", uint8(c))
}

// Valid reports whether c is a known channel
func (c Channel) Valid() bool {
	return c > ChannelUnknown && c <= ChannelAmazonSeller
}

// ParseChannel resolves a channel tag or one of its short aliases
func ParseChannel(raw string) (Channel, error) {
	if ch, ok := channelAliases[foldTag(raw)]; ok {
		return ch, nil
	}
	return ChannelUnknown, fmt.Errorf("unknown channel %q", raw)
}

// MarshalText implements encoding.TextMarshaler
func (c Channel) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid channel %d", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Channel) UnmarshalText(text []byte) error {
	ch, err := ParseChannel(string(text))
	if err != nil {
		return err
	}
	*c = ch
	return nil
}

// Value implements driver.Valuer
func (c Channel) Value() (driver.Value, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid channel %d", uint8(c))
	}
	return c.String(), nil
}

// Scan implements sql.Scanner
func (c *Channel) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return c.UnmarshalText([]byte(v))
	case []byte:
		return c.UnmarshalText(v)
	case nil:
		*c = ChannelUnknown
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Channel", src)
	}
}
