package kernel_test

import (
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/scusemua/kernel-connection/common/jupyter/kernel"
	"github.com/scusemua/kernel-connection/common/jupyter/kernel/mock_kernel"
	"github.com/scusemua/kernel-connection/common/jupyter/messaging"
)

var _ = Describe("Future", func() {
	var (
		mockCtrl *gomock.Controller
		peer     *mock_kernel.MockInputPeer
		request  *messaging.Message
		reply    *messaging.Message
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		peer = mock_kernel.NewMockInputPeer(mockCtrl)

		request = newRequest(messaging.ExecuteRequest, messaging.ShellChannel)
		reply = newResponse(request, messaging.ExecuteReply, messaging.ShellChannel, map[string]interface{}{
			"status":          messaging.MessageStatusOK,
			"execution_count": 1,
		})
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("Will complete once the reply and then the idle status are received", func() {
		future := kernel.NewFuture(request, true, false, peer, nil)
		Expect(future.State()).To(Equal(kernel.FutureAwaitingBoth))

		Expect(future.HandleMsg(statusOf(request, messaging.MessageKernelStatusBusy))).To(Succeed())
		Expect(future.State()).To(Equal(kernel.FutureAwaitingBoth))

		Expect(future.HandleMsg(reply)).To(Succeed())
		Expect(future.State()).To(Equal(kernel.FutureAwaitingIdle))
		Expect(future.DoneC()).ToNot(BeClosed())

		Expect(future.HandleMsg(statusOf(request, messaging.MessageKernelStatusIdle))).To(Succeed())
		Expect(future.State()).To(Equal(kernel.FutureDone))
		Expect(future.DoneC()).To(BeClosed())

		result, err := future.Wait(testContext())
		Expect(err).To(BeNil())
		Expect(result).To(Equal(reply))
		Expect(future.IsDisposed()).To(BeFalse())
	})

	It("Will complete once the idle status and then the reply are received", func() {
		future := kernel.NewFuture(request, true, false, peer, nil)

		Expect(future.HandleMsg(statusOf(request, messaging.MessageKernelStatusIdle))).To(Succeed())
		Expect(future.State()).To(Equal(kernel.FutureAwaitingReply))
		Expect(future.DoneC()).ToNot(BeClosed())

		Expect(future.HandleMsg(reply)).To(Succeed())
		Expect(future.State()).To(Equal(kernel.FutureDone))

		result, err := future.Wait(testContext())
		Expect(err).To(BeNil())
		Expect(result.ID()).To(Equal(reply.ID()))
	})

	It("Will complete on the idle status alone when no reply is expected", func() {
		commMsg := newRequest(messaging.CommMsg, messaging.ShellChannel)
		future := kernel.NewFuture(commMsg, false, false, peer, nil)
		Expect(future.State()).To(Equal(kernel.FutureAwaitingIdle))

		Expect(future.HandleMsg(statusOf(commMsg, messaging.MessageKernelStatusIdle))).To(Succeed())
		Expect(future.State()).To(Equal(kernel.FutureDone))

		result, err := future.Wait(testContext())
		Expect(err).To(BeNil())
		Expect(result).To(BeNil())
	})

	It("Will ignore replies on another channel or to another request", func() {
		future := kernel.NewFuture(request, true, false, peer, nil)

		other := newRequest(messaging.ExecuteRequest, messaging.ShellChannel)
		Expect(future.HandleMsg(newResponse(other, messaging.ExecuteReply, messaging.ShellChannel, nil))).To(Succeed())
		Expect(future.HandleMsg(newResponse(request, messaging.ExecuteReply, messaging.ControlChannel, nil))).To(Succeed())

		Expect(future.State()).To(Equal(kernel.FutureAwaitingBoth))
	})

	It("Will reject Done with ErrFutureCanceled when disposed before completion", func() {
		disposals := 0
		future := kernel.NewFuture(request, true, false, peer, func(*kernel.Future) { disposals++ })

		Expect(future.HandleMsg(reply)).To(Succeed())
		future.Dispose()
		future.Dispose()

		Expect(disposals).To(Equal(1))
		Expect(future.IsDisposed()).To(BeTrue())
		Expect(future.DoneC()).To(BeClosed())

		_, err := future.Wait(testContext())
		Expect(err).To(MatchError(kernel.ErrFutureCanceled))

		// Messages after disposal are dropped.
		Expect(future.HandleMsg(statusOf(request, messaging.MessageKernelStatusIdle))).To(Succeed())
		Expect(future.State()).To(Equal(kernel.FutureAwaitingIdle))
	})

	It("Will dispose itself on completion when disposeOnDone is set", func() {
		var disposed *kernel.Future
		future := kernel.NewFuture(request, true, true, peer, func(f *kernel.Future) { disposed = f })

		Expect(future.HandleMsg(reply)).To(Succeed())
		Expect(future.HandleMsg(statusOf(request, messaging.MessageKernelStatusIdle))).To(Succeed())

		Expect(future.IsDisposed()).To(BeTrue())
		Expect(disposed).To(Equal(future))

		result, err := future.Wait(testContext())
		Expect(err).To(BeNil())
		Expect(result).To(Equal(reply))
	})

	It("Will invoke its handlers with the messages of each channel", func() {
		var (
			mu      sync.Mutex
			replies []*messaging.Message
			iopub   []messaging.JupyterMessageType
		)

		future := kernel.NewFuture(request, true, false, peer, nil,
			kernel.WithOnReply(func(msg *messaging.Message) error {
				mu.Lock()
				defer mu.Unlock()
				replies = append(replies, msg)
				return nil
			}),
			kernel.WithOnIOPub(func(msg *messaging.Message) error {
				mu.Lock()
				defer mu.Unlock()
				iopub = append(iopub, msg.Type())
				return nil
			}))

		stream := newResponse(request, messaging.Stream, messaging.IOPubChannel, map[string]interface{}{"name": "stdout", "text": "2"})
		Expect(future.HandleMsg(statusOf(request, messaging.MessageKernelStatusBusy))).To(Succeed())
		Expect(future.HandleMsg(stream)).To(Succeed())
		Expect(future.HandleMsg(reply)).To(Succeed())
		Expect(future.HandleMsg(statusOf(request, messaging.MessageKernelStatusIdle))).To(Succeed())

		mu.Lock()
		defer mu.Unlock()
		Expect(replies).To(HaveLen(1))
		Expect(replies[0]).To(Equal(reply))
		Expect(iopub).To(Equal([]messaging.JupyterMessageType{
			messaging.IOStatusMessage,
			messaging.Stream,
			messaging.IOStatusMessage,
		}))
	})

	It("Will still advance when a handler fails or panics", func() {
		future := kernel.NewFuture(request, true, false, peer, nil,
			kernel.WithOnReply(func(*messaging.Message) error {
				return errors.New("reply handler failed")
			}),
			kernel.WithOnIOPub(func(*messaging.Message) error {
				panic("iopub handler exploded")
			}))

		Expect(future.HandleMsg(reply)).ToNot(Succeed())
		Expect(future.State()).To(Equal(kernel.FutureAwaitingIdle))

		Expect(future.HandleMsg(statusOf(request, messaging.MessageKernelStatusIdle))).ToNot(Succeed())
		Expect(future.State()).To(Equal(kernel.FutureDone))
	})

	It("Will not call the IOPub handler for messages a hook blocks", func() {
		iopubCalls := 0
		future := kernel.NewFuture(request, true, false, peer, nil,
			kernel.WithOnIOPub(func(*messaging.Message) error {
				iopubCalls++
				return nil
			}))

		id, err := future.RegisterMessageHook(func(*messaging.Message) (bool, error) {
			return false, nil
		})
		Expect(err).To(BeNil())

		Expect(future.HandleMsg(reply)).To(Succeed())
		Expect(future.HandleMsg(statusOf(request, messaging.MessageKernelStatusIdle))).To(Succeed())
		Expect(iopubCalls).To(Equal(0))
		Expect(future.State()).To(Equal(kernel.FutureDone))

		future.RemoveMessageHook(id)
	})

	It("Will only accept message hooks on shell futures", func() {
		debug := newRequest(messaging.DebugRequest, messaging.ControlChannel)
		future := kernel.NewFuture(debug, true, false, peer, nil)

		_, err := future.RegisterMessageHook(func(*messaging.Message) (bool, error) { return true, nil })
		Expect(err).To(MatchError(kernel.ErrHookOnNonShellFuture))

		shell := kernel.NewFuture(request, true, false, peer, nil)
		shell.Dispose()
		_, err = shell.RegisterMessageHook(func(*messaging.Message) (bool, error) { return true, nil })
		Expect(err).To(MatchError(kernel.ErrFutureDisposed))
	})

	It("Will mark input as pending on a stdin request and forward the input reply", func() {
		inputRequest := newResponse(request, messaging.InputRequest, messaging.StdinChannel, map[string]interface{}{
			"prompt":   "name? ",
			"password": false,
		})
		answer := messaging.InputReplyContent{Status: messaging.MessageStatusOK, Value: "ada"}

		peer.EXPECT().SetPendingInput(true).Times(1)
		peer.EXPECT().SendInputReply(answer, &inputRequest.Header).Return(nil).Times(1)

		var stdin *messaging.Message
		future := kernel.NewFuture(request, true, false, peer, nil, kernel.WithOnStdin(func(msg *messaging.Message) error {
			stdin = msg
			return nil
		}))

		Expect(future.HandleMsg(inputRequest)).To(Succeed())
		Expect(stdin).To(Equal(inputRequest))
		Expect(future.SendInputReply(answer, &stdin.Header)).To(Succeed())

		future.Dispose()
		Expect(future.SendInputReply(answer, &stdin.Header)).To(MatchError(kernel.ErrFutureDisposed))
	})
})
