package mqtt

import "github.com/golang/protobuf/proto"

// LineMsg is the payload of one line.
type LineMsg struct {
	// Seq increases by one per line from the same sender, starting at 1.
	Seq  uint32 `protobuf:"varint,1,opt,name=seq,proto3" json:"seq,omitempty"`
	Text string `protobuf:"bytes,2,opt,name=text,proto3" json:"text,omitempty"`
}

// Reset implements proto.Message.
func (m *LineMsg) Reset() { *m = LineMsg{} }

// String implements proto.Message.
func (m *LineMsg) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*LineMsg) ProtoMessage() {}

// EncodeLine encodes a line payload.
func EncodeLine(seq uint32, text string) ([]byte, error) {
	return proto.Marshal(&LineMsg{Seq: seq, Text: text})
}

// DecodeLine decodes a line payload.
func DecodeLine(payload []byte) (*LineMsg, error) {
	var msg LineMsg
	if err := proto.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
