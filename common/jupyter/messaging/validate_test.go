package messaging_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/kernel-connection/common/jupyter/messaging"
)

const validHeader = `{"msg_id":"m1","msg_type":"%s","session":"s1","username":"u","date":"","version":"5.2"}`

func decode(frame string) *messaging.Message {
	msg, err := messaging.Deserialize([]byte(frame), false)
	Expect(err).To(BeNil())
	return msg
}

func iopub(msgType string, content string) *messaging.Message {
	return decode(fmt.Sprintf(`{"header":`+validHeader+`,"parent_header":{},"metadata":{},"content":%s,"channel":"iopub"}`, msgType, content))
}

func expectInvalid(msg *messaging.Message, field string) {
	err := messaging.Validate(msg)
	Expect(err).ToNot(BeNil())
	Expect(errors.Is(err, messaging.ErrInvalidMessage)).To(BeTrue())

	var validationErr *messaging.ValidationError
	Expect(errors.As(err, &validationErr)).To(BeTrue())
	Expect(validationErr.Field).To(Equal(field))
}

var _ = Describe("Validate", func() {
	It("Will accept a locally built message", func() {
		msg := messaging.NewMessage(messaging.MessageOptions{
			MsgType: messaging.IOStatusMessage,
			Channel: messaging.IOPubChannel,
			Session: "s",
			Content: map[string]interface{}{"execution_state": "busy"},
		})
		Expect(messaging.Validate(msg)).To(Succeed())
	})

	It("Will reject a header without a username", func() {
		msg := decode(`{"header":{"msg_id":"m","msg_type":"status","session":"s","version":"5.2"},"parent_header":{},"metadata":{},"content":{},"channel":"shell"}`)
		expectInvalid(msg, "header.username")
	})

	It("Will treat an empty string as present", func() {
		msg := decode(`{"header":{"msg_id":"","msg_type":"kernel_info_reply","session":"","username":"","version":""},"parent_header":{},"metadata":{},"content":{},"channel":"shell"}`)
		Expect(messaging.Validate(msg)).To(Succeed())
	})

	It("Will reject an envelope without content", func() {
		msg := decode(fmt.Sprintf(`{"header":`+validHeader+`,"parent_header":{},"metadata":{},"channel":"shell"}`, "execute_reply"))
		expectInvalid(msg, "content")
	})

	It("Will reject an envelope without a header", func() {
		msg := decode(`{"parent_header":{},"metadata":{},"content":{},"channel":"shell"}`)
		expectInvalid(msg, "header")
	})

	It("Will reject an iopub stream without text", func() {
		expectInvalid(iopub("stream", `{"name":"stdout"}`), "content.text")
	})

	It("Will reject a content field of the wrong primitive type", func() {
		expectInvalid(iopub("execute_input", `{"code":"1+1","execution_count":"one"}`), "content.execution_count")
		expectInvalid(iopub("clear_output", `{"wait":"yes"}`), "content.wait")
	})

	It("Will enforce the execution_state enumeration", func() {
		Expect(messaging.Validate(iopub("status", `{"execution_state":"idle"}`))).To(Succeed())
		expectInvalid(iopub("status", `{"execution_state":"sleeping"}`), "content.execution_state")
	})

	It("Will accept any present value for object fields", func() {
		Expect(messaging.Validate(iopub("error", `{"ename":"E","evalue":"v","traceback":[]}`))).To(Succeed())
		Expect(messaging.Validate(iopub("display_data", `{"data":null,"metadata":{}}`))).To(Succeed())
		expectInvalid(iopub("comm_open", `{"comm_id":"c","target_name":"t"}`), "content.data")
	})

	It("Will pass unknown iopub message types through", func() {
		Expect(messaging.Validate(iopub("some_future_message", `{}`))).To(Succeed())
	})

	It("Will not check content schemas on other channels", func() {
		msg := decode(fmt.Sprintf(`{"header":`+validHeader+`,"parent_header":{},"metadata":{},"content":{},"channel":"shell"}`, "comm_close"))
		Expect(messaging.Validate(msg)).To(Succeed())
	})
})
