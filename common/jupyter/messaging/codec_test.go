package messaging_test

import (
	"encoding/binary"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/kernel-connection/common/jupyter/messaging"
)

func newCommMsg(buffers [][]byte) *messaging.Message {
	return messaging.NewMessage(messaging.MessageOptions{
		MsgType:  messaging.CommMsg,
		Channel:  messaging.ShellChannel,
		Session:  "session-1",
		Username: "alice",
		Content: map[string]interface{}{
			"comm_id": "comm-1",
			"data":    map[string]interface{}{"method": "update", "value": 3.0},
		},
		Metadata: map[string]interface{}{"origin": "test"},
		ParentHeader: &messaging.Header{
			MsgID:   "parent-1",
			MsgType: messaging.ExecuteRequest,
			Session: "session-1",
		},
		Buffers: buffers,
	})
}

var _ = Describe("Codec", func() {
	It("Will produce a JSON text frame for a message without buffers", func() {
		msg := newCommMsg(nil)

		data, isBinary, err := messaging.Serialize(msg)
		Expect(err).To(BeNil())
		Expect(isBinary).To(BeFalse())
		Expect(string(data)).To(ContainSubstring(`"msg_type":"comm_msg"`))

		decoded, err := messaging.Deserialize(data, false)
		Expect(err).To(BeNil())
		Expect(decoded.Header.MsgID).To(Equal(msg.Header.MsgID))
		Expect(decoded.ParentMsgID()).To(Equal("parent-1"))
		Expect(decoded.Buffers).To(BeEmpty())
		Expect(messaging.Validate(decoded)).To(Succeed())
	})

	It("Will emit an empty parent header as an empty object", func() {
		msg := messaging.NewMessage(messaging.MessageOptions{
			MsgType: messaging.KernelInfoRequest,
			Channel: messaging.ShellChannel,
			Session: "s",
		})

		data, _, err := messaging.Serialize(msg)
		Expect(err).To(BeNil())
		Expect(string(data)).To(ContainSubstring(`"parent_header":{}`))

		decoded, err := messaging.Deserialize(data, false)
		Expect(err).To(BeNil())
		Expect(decoded.ParentHeader).To(BeNil())
	})

	It("Will preserve the envelope and the buffer bytes through a binary frame", func() {
		buffers := [][]byte{{0x00, 0x01, 0x02}, {}, []byte("hello, world")}
		msg := newCommMsg(buffers)

		data, isBinary, err := messaging.Serialize(msg)
		Expect(err).To(BeNil())
		Expect(isBinary).To(BeTrue())

		By("Laying out the segment count and the offset table first")
		Expect(binary.BigEndian.Uint32(data[0:4])).To(Equal(uint32(4)))
		Expect(binary.BigEndian.Uint32(data[4:8])).To(Equal(uint32(20)))

		decoded, err := messaging.Deserialize(data, true)
		Expect(err).To(BeNil())
		Expect(decoded.Header).To(Equal(msg.Header))
		Expect(decoded.ParentHeader.MsgID).To(Equal(msg.ParentHeader.MsgID))
		Expect(decoded.Metadata).To(Equal(msg.Metadata))
		Expect(decoded.Content).To(Equal(msg.Content))
		Expect(decoded.Channel).To(Equal(messaging.ShellChannel))
		Expect(decoded.Buffers).To(HaveLen(3))
		Expect(decoded.Buffers[0]).To(Equal(buffers[0]))
		Expect(decoded.Buffers[1]).To(BeEmpty())
		Expect(decoded.Buffers[2]).To(Equal(buffers[2]))
	})

	It("Will reject a binary frame that declares fewer than two segments", func() {
		frame := make([]byte, 8)
		binary.BigEndian.PutUint32(frame[0:4], 1)
		binary.BigEndian.PutUint32(frame[4:8], 8)

		_, err := messaging.Deserialize(frame, true)
		Expect(err).ToNot(BeNil())
		Expect(errors.Is(err, messaging.ErrInvalidFrame)).To(BeTrue())

		var codecErr *messaging.CodecError
		Expect(errors.As(err, &codecErr)).To(BeTrue())
	})

	It("Will reject a binary frame whose offsets point outside the frame", func() {
		msg := newCommMsg([][]byte{[]byte("abc")})
		data, _, err := messaging.Serialize(msg)
		Expect(err).To(BeNil())

		binary.BigEndian.PutUint32(data[8:12], uint32(len(data)+10))

		_, err = messaging.Deserialize(data, true)
		Expect(errors.Is(err, messaging.ErrInvalidFrame)).To(BeTrue())
	})

	It("Will reject a truncated binary frame", func() {
		_, err := messaging.Deserialize([]byte{0x00, 0x00}, true)
		Expect(errors.Is(err, messaging.ErrInvalidFrame)).To(BeTrue())
	})

	It("Will reject a text frame that is not JSON", func() {
		_, err := messaging.Deserialize([]byte("not json"), false)
		Expect(errors.Is(err, messaging.ErrInvalidFrame)).To(BeTrue())
	})
})
