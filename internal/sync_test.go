package internal_test

import (
	"context"
	"errors"
	"time"

	"github.com/golang/mock/gomock"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/Top-G-420/Rue-Organics/internal"
	mock_internal "github.com/Top-G-420/Rue-Organics/internal/mock"
	"github.com/Top-G-420/Rue-Organics/internal/model"
)

var _ = Describe("SyncCoordinator", func() {
	const (
		number = "79927398713"
		uid    = 1
	)

	var (
		ctrl        *gomock.Controller
		source      *mock_internal.MockOrderSource
		feed        *mock_internal.MockIFeed
		coordinator *internal.SyncCoordinator

		ctx    context.Context
		cancel context.CancelFunc

		changes      chan internal.OrderChange
		unsubscribed chan struct{}
		subscribed   bool
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())

		source = mock_internal.NewMockOrderSource(ctrl)
		feed = mock_internal.NewMockIFeed(ctrl)
		coordinator = internal.NewSyncCoordinator(source, feed, zap.NewNop().Sugar())

		ctx, cancel = context.WithCancel(context.Background())

		changes = make(chan internal.OrderChange, 1)
		unsubscribed = make(chan struct{})
		subscribed = false
	})

	AfterEach(func() {
		// The watcher goroutine must be gone before the next spec rebuilds
		// the channels.
		cancel()
		if subscribed {
			Eventually(unsubscribed).Should(BeClosed())
		}
	})

	expectSubscribe := func(scope internal.ChangeScope) {
		subscribed = true
		done := unsubscribed
		feed.EXPECT().Subscribe(scope).Return(
			(<-chan internal.OrderChange)(changes),
			func() { close(done) },
		)
	}

	Context("WatchOrder", func() {
		It("delivers the stored state first and refetches on every signal", func() {
			first := model.OrderOutput{Number: number, Status: model.StageProcessing}
			updated := model.OrderOutput{Number: number, Status: model.StageShipped}

			expectSubscribe(internal.ChangeScope{Number: number})
			source.EXPECT().GetOrder(gomock.Any(), number, uid).Return(first, nil)
			source.EXPECT().GetOrder(gomock.Any(), number, uid).Return(updated, nil)

			out, err := coordinator.WatchOrder(ctx, number, uid, nil)
			Expect(err).ShouldNot(HaveOccurred())
			Eventually(out).Should(Receive(Equal(first)))

			changes <- internal.OrderChange{Number: number, OwnerID: uid}
			Eventually(out).Should(Receive(Equal(updated)))
		})
		It("refetches on an explicit refresh request", func() {
			first := model.OrderOutput{Number: number, Status: model.StageProcessing}
			updated := model.OrderOutput{Number: number, Status: model.StageShipped}

			expectSubscribe(internal.ChangeScope{Number: number})
			source.EXPECT().GetOrder(gomock.Any(), number, uid).Return(first, nil)
			source.EXPECT().GetOrder(gomock.Any(), number, uid).Return(updated, nil)

			refresh := make(chan struct{}, 1)
			out, err := coordinator.WatchOrder(ctx, number, uid, refresh)
			Expect(err).ShouldNot(HaveOccurred())
			Eventually(out).Should(Receive(Equal(first)))

			refresh <- struct{}{}
			Eventually(out).Should(Receive(Equal(updated)))
		})
		It("keeps the previous snapshot on a transient refetch failure", func() {
			first := model.OrderOutput{Number: number, Status: model.StageProcessing}
			updated := model.OrderOutput{Number: number, Status: model.StageShipped}

			expectSubscribe(internal.ChangeScope{Number: number})
			source.EXPECT().GetOrder(gomock.Any(), number, uid).Return(first, nil)
			source.EXPECT().GetOrder(gomock.Any(), number, uid).Return(model.OrderOutput{}, errors.New("connection reset"))
			source.EXPECT().GetOrder(gomock.Any(), number, uid).Return(updated, nil)

			out, err := coordinator.WatchOrder(ctx, number, uid, nil)
			Expect(err).ShouldNot(HaveOccurred())
			Eventually(out).Should(Receive(Equal(first)))

			changes <- internal.OrderChange{Number: number}
			Consistently(out, 100*time.Millisecond).ShouldNot(Receive())

			changes <- internal.OrderChange{Number: number}
			Eventually(out).Should(Receive(Equal(updated)))
		})
		It("closes the stream and unsubscribes when the context ends", func() {
			first := model.OrderOutput{Number: number}

			expectSubscribe(internal.ChangeScope{Number: number})
			source.EXPECT().GetOrder(gomock.Any(), number, uid).Return(first, nil)

			out, err := coordinator.WatchOrder(ctx, number, uid, nil)
			Expect(err).ShouldNot(HaveOccurred())
			Eventually(out).Should(Receive(Equal(first)))

			cancel()
			Eventually(out).Should(BeClosed())
			Eventually(unsubscribed).Should(BeClosed())
		})
		It("ends the stream when the change feed shuts down", func() {
			first := model.OrderOutput{Number: number}

			expectSubscribe(internal.ChangeScope{Number: number})
			source.EXPECT().GetOrder(gomock.Any(), number, uid).Return(first, nil)

			out, err := coordinator.WatchOrder(ctx, number, uid, nil)
			Expect(err).ShouldNot(HaveOccurred())
			Eventually(out).Should(Receive(Equal(first)))

			close(changes)
			Eventually(out).Should(BeClosed())
			Eventually(unsubscribed).Should(BeClosed())
		})
		It("fails fast without subscribing when the order is unavailable", func() {
			source.EXPECT().GetOrder(gomock.Any(), number, uid).Return(model.OrderOutput{}, internal.ErrNotFound)

			_, err := coordinator.WatchOrder(context.Background(), number, uid, nil)
			Expect(err).Should(HaveOccurred())
			Expect(errors.Is(err, internal.ErrNotFound)).To(BeTrue())
		})
	})

	Context("WatchOrders", func() {
		It("scopes the subscription by owner and refetches the list", func() {
			first := []model.OrderOutput{{Number: number, Status: model.StageProcessing}}
			updated := []model.OrderOutput{{Number: number, Status: model.StageShipped}}

			expectSubscribe(internal.ChangeScope{OwnerID: uid})
			source.EXPECT().GetOrders(gomock.Any(), uid).Return(first, nil)
			source.EXPECT().GetOrders(gomock.Any(), uid).Return(updated, nil)

			out, err := coordinator.WatchOrders(ctx, uid, nil)
			Expect(err).ShouldNot(HaveOccurred())
			Eventually(out).Should(Receive(Equal(first)))

			changes <- internal.OrderChange{Number: number, OwnerID: uid}
			Eventually(out).Should(Receive(Equal(updated)))
		})
	})
})
