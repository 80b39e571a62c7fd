package msgs

import (
	"time"

	"github.com/golang/protobuf/proto"

	fx "github.com/robotalks/pulselink/pkg/framework"
)

// LineLevel is published whenever an endpoint drives a line.
type LineLevel struct {
	// Channel is the 1-based cabling position of the line.
	Channel uint32 `protobuf:"varint,1,opt,name=channel,proto3" json:"channel,omitempty"`
	High    bool   `protobuf:"varint,2,opt,name=high,proto3" json:"high,omitempty"`
	// Source is the ID of the publishing endpoint.
	Source string `protobuf:"bytes,3,opt,name=source,proto3" json:"source,omitempty"`
	// Stamp is the publishing time in unix nanoseconds.
	Stamp int64 `protobuf:"varint,4,opt,name=stamp,proto3" json:"stamp,omitempty"`
}

// NewMessage implements Message.
func (m *LineLevel) NewMessage() fx.Message { return &LineLevel{} }

// ProtoMessage implements proto.Message.
func (m *LineLevel) ProtoMessage() {}

// Reset implements proto.Message.
func (m *LineLevel) Reset() { *m = LineLevel{} }

// String implements proto.Message.
func (m *LineLevel) String() string { return proto.CompactTextString(m) }

// Time returns Stamp as time.Time.
func (m *LineLevel) Time() time.Time {
	return time.Unix(0, m.Stamp)
}

// Encode marshals the message.
func (m *LineLevel) Encode() ([]byte, error) {
	return proto.Marshal(m)
}

// DecodeLineLevel unmarshals a LineLevel.
func DecodeLineLevel(payload []byte) (*LineLevel, error) {
	m := &LineLevel{}
	if err := proto.Unmarshal(payload, m); err != nil {
		return nil, err
	}
	return m, nil
}

// LineLevels carries the levels of several lines driven at once. A
// receiver applies all of them before sampling.
type LineLevels struct {
	Levels []*LineLevel `protobuf:"bytes,1,rep,name=levels,proto3" json:"levels,omitempty"`
	Source string       `protobuf:"bytes,2,opt,name=source,proto3" json:"source,omitempty"`
	Stamp  int64        `protobuf:"varint,3,opt,name=stamp,proto3" json:"stamp,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *LineLevels) ProtoMessage() {}

// Reset implements proto.Message.
func (m *LineLevels) Reset() { *m = LineLevels{} }

// String implements proto.Message.
func (m *LineLevels) String() string { return proto.CompactTextString(m) }

// Encode marshals the message.
func (m *LineLevels) Encode() ([]byte, error) {
	return proto.Marshal(m)
}

// DecodeLineLevels unmarshals a LineLevels.
func DecodeLineLevels(payload []byte) (*LineLevels, error) {
	m := &LineLevels{}
	if err := proto.Unmarshal(payload, m); err != nil {
		return nil, err
	}
	return m, nil
}
