package websocket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/scusemua/kernel-connection/common/jupyter/messaging"
	commonws "github.com/scusemua/kernel-connection/common/websocket"
)

type recordingHandler struct {
	opened   chan *commonws.Session
	messages chan *messaging.Message
	closed   chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened:   make(chan *commonws.Session, 4),
		messages: make(chan *messaging.Message, 16),
		closed:   make(chan error, 4),
	}
}

func (h *recordingHandler) OnOpen(session *commonws.Session) {
	h.opened <- session
}

func (h *recordingHandler) HandleMessage(_ context.Context, _ *commonws.Session, msg *messaging.Message) {
	h.messages <- msg
}

func (h *recordingHandler) OnClose(_ *commonws.Session, err error) {
	h.closed <- err
}

var _ = Describe("KernelChannelServer", func() {
	var (
		handler *recordingHandler
		server  *httptest.Server
		ctx     context.Context
	)

	dial := func(path string) *websocket.Conn {
		GinkgoHelper()

		url := "ws" + strings.TrimPrefix(server.URL, "http") + path
		conn, _, err := websocket.Dial(ctx, url, nil)
		Expect(err).To(BeNil())
		DeferCleanup(func() { _ = conn.CloseNow() })
		return conn
	}

	BeforeEach(func() {
		handler = newRecordingHandler()
		server = httptest.NewServer(commonws.NewKernelChannelServer(handler, 1<<20, rate.Inf, 1))
		DeferCleanup(server.Close)

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		DeferCleanup(cancel)
	})

	DescribeTable("Will parse kernel channel paths",
		func(path string, expectedID string, expectedOK bool) {
			kernelID, ok := commonws.ParseChannelsPath(path)
			Expect(ok).To(Equal(expectedOK))
			Expect(kernelID).To(Equal(expectedID))
		},
		Entry("a channels path", "/api/kernels/abc/channels", "abc", true),
		Entry("a path without the kernel id", "/api/kernels//channels", "", false),
		Entry("a nested path", "/api/kernels/a/b/channels", "", false),
		Entry("another endpoint", "/api/kernels/abc", "", false),
	)

	It("Will answer 404 outside of the channels path", func() {
		resp, err := http.Get(server.URL + "/api/sessions")
		Expect(err).To(BeNil())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("Will decode client messages and send messages back", func() {
		conn := dial("/api/kernels/kernel-1/channels?session_id=client-1")

		var session *commonws.Session
		Eventually(handler.opened).Should(Receive(&session))
		Expect(session.KernelID).To(Equal("kernel-1"))
		Expect(session.ClientID).To(Equal("client-1"))

		request := messaging.NewMessage(messaging.MessageOptions{
			MsgType: messaging.ExecuteRequest,
			Channel: messaging.ShellChannel,
			Session: "client-1",
			Content: map[string]interface{}{"code": "1"},
			Buffers: [][]byte{{7}},
		})
		data, binary, err := messaging.Serialize(request)
		Expect(err).To(BeNil())
		Expect(binary).To(BeTrue())

		Expect(conn.Write(ctx, websocket.MessageText, []byte("garbage"))).To(Succeed())
		Expect(conn.Write(ctx, websocket.MessageBinary, data)).To(Succeed())

		var received *messaging.Message
		Eventually(handler.messages).Should(Receive(&received))
		Expect(received.ID()).To(Equal(request.ID()))
		Expect(received.Buffers).To(Equal([][]byte{{7}}))

		reply := messaging.NewMessage(messaging.MessageOptions{
			MsgType:      messaging.ExecuteReply,
			Channel:      messaging.ShellChannel,
			Session:      "kernel",
			ParentHeader: &request.Header,
		})
		Expect(session.Send(ctx, reply)).To(Succeed())

		typ, payload, err := conn.Read(ctx)
		Expect(err).To(BeNil())
		Expect(typ).To(Equal(websocket.MessageText))

		decoded, err := messaging.Deserialize(payload, false)
		Expect(err).To(BeNil())
		Expect(decoded.ParentMsgID()).To(Equal(request.ID()))
	})

	It("Will end the session when the client closes", func() {
		conn := dial("/api/kernels/kernel-1/channels?session_id=client-1")

		var session *commonws.Session
		Eventually(handler.opened).Should(Receive(&session))

		Expect(conn.Close(websocket.StatusNormalClosure, "")).To(Succeed())
		Eventually(handler.closed).Should(Receive(BeNil()))
		Expect(session.Send(ctx, messaging.NewMessage(messaging.MessageOptions{}))).To(MatchError(commonws.ErrSessionClosed))
	})

	It("Will drop every open session", func() {
		first := dial("/api/kernels/kernel-1/channels?session_id=client-1")
		second := dial("/api/kernels/kernel-1/channels?session_id=client-2")
		Eventually(handler.opened).Should(Receive())
		Eventually(handler.opened).Should(Receive())

		channels := server.Config.Handler.(*commonws.KernelChannelServer)
		Expect(channels.Sessions()).To(HaveLen(2))
		Expect(channels.DropAll()).To(Succeed())

		for _, conn := range []*websocket.Conn{first, second} {
			_, _, err := conn.Read(ctx)
			Expect(err).ToNot(BeNil())
		}

		Eventually(channels.Sessions).Should(BeEmpty())
	})
})
