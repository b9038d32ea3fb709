package internal_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/Top-G-420/Rue-Organics/internal"
	mock_internal "github.com/Top-G-420/Rue-Organics/internal/mock"
	"github.com/Top-G-420/Rue-Organics/internal/model"
)

var _ = Describe("Service", func() {
	const (
		number = "79927398713"
		uid    = 1
	)

	var (
		ctrl *gomock.Controller
		rep  *mock_internal.MockIRepository
		srv  internal.IService
		t0   time.Time
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		rep = mock_internal.NewMockIRepository(ctrl)
		srv = internal.NewService(rep, "secret", zap.NewNop().Sugar())
		t0 = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	})

	storedOrder := func(stages []model.Stage, owner int) model.Order {
		encoded, err := internal.EncodeStages(stages)
		Expect(err).ShouldNot(HaveOccurred())
		return model.Order{
			Number:    number,
			OwnerID:   owner,
			RawStages: encoded,
			Status:    model.StagePaymentPending,
			Total:     decimal.NewFromInt(100),
			CreatedAt: t0,
		}
	}

	Context("auth", func() {
		It("registers a new user", func() {
			ctx := context.Background()
			l, p := "login", "pass"
			h := internal.GetHash(p)

			rep.EXPECT().IsUserExist(ctx, l).Return(false, nil)
			rep.EXPECT().Register(ctx, l, h).Return(1, nil)

			_, err := srv.Register(ctx, l, p)
			Expect(err).ShouldNot(HaveOccurred())
		})
		It("rejects a taken login", func() {
			ctx := context.Background()

			rep.EXPECT().IsUserExist(ctx, "login").Return(true, nil)

			_, err := srv.Register(ctx, "login", "pass")
			Expect(err).Should(Equal(internal.ErrLoginIsAlreadyTaken))
		})
		It("logs a user in", func() {
			ctx := context.Background()
			l, p := "login", "pass"
			h := internal.GetHash(p)

			rep.EXPECT().CheckCredentials(ctx, l, h).Return(1, nil)

			_, err := srv.Login(ctx, l, p)
			Expect(err).ShouldNot(HaveOccurred())
		})
	})

	Context("GetOrder", func() {
		It("rejects a number failing the luhn check before any lookup", func() {
			_, err := srv.GetOrder(context.Background(), "123", uid)
			Expect(err).Should(Equal(internal.ErrLuhnInvalid))
		})
		It("rejects another user's order", func() {
			ctx := context.Background()
			rep.EXPECT().GetOrderByNumber(ctx, number).Return(storedOrder(internal.DefaultStages(t0), 2), nil)

			_, err := srv.GetOrder(ctx, number, uid)
			Expect(err).Should(Equal(internal.ErrAccessDenied))
		})
		It("parses stored stages into the output", func() {
			ctx := context.Background()
			rep.EXPECT().GetOrderByNumber(ctx, number).Return(storedOrder(internal.DefaultStages(t0), uid), nil)

			o, err := srv.GetOrder(ctx, number, uid)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(o.Stages).To(HaveLen(6))
			Expect(o.Stages[0].Completed).To(BeTrue())
		})
		It("substitutes the default workflow for a legacy delivery record", func() {
			ctx := context.Background()
			stored := storedOrder(nil, uid)
			stored.RawStages = []byte(`[{"stage":"delivery","address":"X"}]`)
			rep.EXPECT().GetOrderByNumber(ctx, number).Return(stored, nil)

			o, err := srv.GetOrder(ctx, number, uid)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(o.Stages).To(HaveLen(6))
			Expect(o.Delivery).NotTo(BeNil())
			Expect(o.Delivery.Address).To(Equal("X"))
		})
	})

	Context("AdvanceOrder", func() {
		It("completes the current stage and persists the next status", func() {
			ctx := context.Background()
			rep.EXPECT().GetOrderByNumber(ctx, number).Return(storedOrder(internal.DefaultStages(t0), uid), nil)
			rep.EXPECT().UpdateOrderStages(ctx, number, uid, gomock.Any(), model.StageProcessing, gomock.Nil()).Return(nil)

			o, err := srv.AdvanceOrder(ctx, number, uid)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(o.Status).To(Equal(model.StageProcessing))
			Expect(o.Stages[1].Completed).To(BeTrue())
		})
		It("carries legacy delivery info into the first stage write", func() {
			ctx := context.Background()
			stored := storedOrder(nil, uid)
			stored.RawStages = []byte(`[{"stage":"delivery","address":"14 Ngong Rd","instructions":"gate B"}]`)
			rep.EXPECT().GetOrderByNumber(ctx, number).Return(stored, nil)
			rep.EXPECT().UpdateOrderStages(ctx, number, uid, gomock.Any(), model.StageProcessing, gomock.Not(gomock.Nil())).
				DoAndReturn(func(_ context.Context, _ string, _ int, _ []byte, _ string, delivery []byte) error {
					var d model.DeliveryInfo
					Expect(json.Unmarshal(delivery, &d)).To(Succeed())
					Expect(d.Address).To(Equal("14 Ngong Rd"))
					Expect(d.Instructions).To(Equal("gate B"))
					return nil
				})

			o, err := srv.AdvanceOrder(ctx, number, uid)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(o.Delivery).NotTo(BeNil())
			Expect(o.Delivery.Address).To(Equal("14 Ngong Rd"))
		})
		It("leaves an already stored delivery column alone", func() {
			ctx := context.Background()
			stored := storedOrder(internal.DefaultStages(t0), uid)
			stored.Delivery = &model.DeliveryInfo{Address: "14 Ngong Rd"}
			rep.EXPECT().GetOrderByNumber(ctx, number).Return(stored, nil)
			rep.EXPECT().UpdateOrderStages(ctx, number, uid, gomock.Any(), model.StageProcessing, gomock.Nil()).Return(nil)

			o, err := srv.AdvanceOrder(ctx, number, uid)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(o.Delivery.Address).To(Equal("14 Ngong Rd"))
		})
		It("is a no-op without a write on a terminal order", func() {
			ctx := context.Background()
			stages := internal.DefaultStages(t0)
			for i := range stages {
				stages[i].Completed = true
			}
			rep.EXPECT().GetOrderByNumber(ctx, number).Return(storedOrder(stages, uid), nil)

			_, err := srv.AdvanceOrder(ctx, number, uid)
			Expect(err).ShouldNot(HaveOccurred())
		})
		It("refuses a non-owner before any write", func() {
			ctx := context.Background()
			rep.EXPECT().GetOrderByNumber(ctx, number).Return(storedOrder(internal.DefaultStages(t0), 2), nil)

			_, err := srv.AdvanceOrder(ctx, number, uid)
			Expect(err).Should(Equal(internal.ErrAccessDenied))
		})
		It("surfaces a failed write as a recoverable transition failure", func() {
			ctx := context.Background()
			rep.EXPECT().GetOrderByNumber(ctx, number).Return(storedOrder(internal.DefaultStages(t0), uid), nil)
			rep.EXPECT().UpdateOrderStages(ctx, number, uid, gomock.Any(), model.StageProcessing, gomock.Nil()).Return(errors.New("connection reset"))

			_, err := srv.AdvanceOrder(ctx, number, uid)
			Expect(err).Should(HaveOccurred())
			Expect(errors.Is(err, internal.ErrTransitionFailed)).To(BeTrue())
		})
		It("passes storage-level denial through unchanged", func() {
			ctx := context.Background()
			rep.EXPECT().GetOrderByNumber(ctx, number).Return(storedOrder(internal.DefaultStages(t0), uid), nil)
			rep.EXPECT().UpdateOrderStages(ctx, number, uid, gomock.Any(), model.StageProcessing, gomock.Nil()).Return(internal.ErrAccessDenied)

			_, err := srv.AdvanceOrder(ctx, number, uid)
			Expect(err).Should(Equal(internal.ErrAccessDenied))
		})
	})

	Context("ConfirmOrderReceipt", func() {
		It("confirms a delivered order", func() {
			ctx := context.Background()
			stages := internal.DefaultStages(t0)
			for i := range stages[:5] {
				stages[i].Completed = true
			}
			rep.EXPECT().GetOrderByNumber(ctx, number).Return(storedOrder(stages, uid), nil)
			rep.EXPECT().UpdateOrderStages(ctx, number, uid, gomock.Any(), model.StatusConfirmedReceived, gomock.Nil()).Return(nil)

			o, err := srv.ConfirmOrderReceipt(ctx, number, uid)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(o.Status).To(Equal(model.StatusConfirmedReceived))
		})
		It("refuses while earlier stages are pending, with no write", func() {
			ctx := context.Background()
			rep.EXPECT().GetOrderByNumber(ctx, number).Return(storedOrder(internal.DefaultStages(t0), uid), nil)

			_, err := srv.ConfirmOrderReceipt(ctx, number, uid)
			Expect(err).Should(Equal(internal.ErrReceiptNotReady))
		})
	})

	Context("Checkout", func() {
		It("freezes resolved tier prices onto the order lines", func() {
			ctx := context.Background()
			lines := []model.CartLine{{
				ID:            "line-1",
				ProductID:     "moringa-250",
				Name:          "Moringa Powder 250g",
				UnitBasePrice: model.RawPrice{Text: "100"},
				Tiers: []model.PricingTier{
					{MinQuantity: 5, UnitPrice: model.RawPrice{Text: "90"}},
					{MinQuantity: 10, UnitPrice: model.RawPrice{Text: "80"}},
				},
				Quantity: 9,
			}}

			rep.EXPECT().GetCartLines(ctx, uid).Return(lines, nil)
			rep.EXPECT().CreateOrder(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, o model.Order) error {
				Expect(o.OwnerID).To(Equal(uid))
				Expect(o.Items).To(HaveLen(1))
				Expect(o.Items[0].UnitPrice.String()).To(Equal("90"))
				Expect(o.Items[0].LineTotal.String()).To(Equal("810"))
				Expect(o.Total.String()).To(Equal("810"))
				Expect(o.Status).To(Equal(model.StagePaymentPending))
				Expect(o.Stages[0].Completed).To(BeTrue())
				return nil
			})

			o, err := srv.Checkout(ctx, uid, model.CheckoutInput{Address: "14 Ngong Rd"})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(o.Total.String()).To(Equal("810"))
			Expect(o.Delivery.Address).To(Equal("14 Ngong Rd"))
		})
		It("retries with a fresh number when the generated one collides", func() {
			ctx := context.Background()
			lines := []model.CartLine{{UnitBasePrice: model.RawPrice{Text: "100"}, Quantity: 1}}

			rep.EXPECT().GetCartLines(ctx, uid).Return(lines, nil)
			rep.EXPECT().CreateOrder(ctx, gomock.Any()).Return(internal.ErrNumberCollision)

			var retried string
			rep.EXPECT().CreateOrder(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, o model.Order) error {
				retried = o.Number
				return nil
			})

			o, err := srv.Checkout(ctx, uid, model.CheckoutInput{Address: "14 Ngong Rd"})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(o.Number).To(Equal(retried))
		})
		It("gives up after the collision retries run out", func() {
			ctx := context.Background()
			lines := []model.CartLine{{UnitBasePrice: model.RawPrice{Text: "100"}, Quantity: 1}}

			rep.EXPECT().GetCartLines(ctx, uid).Return(lines, nil)
			rep.EXPECT().CreateOrder(ctx, gomock.Any()).Return(internal.ErrNumberCollision).Times(4)

			_, err := srv.Checkout(ctx, uid, model.CheckoutInput{Address: "14 Ngong Rd"})
			Expect(err).Should(Equal(internal.ErrNumberCollision))
		})
		It("refuses an empty cart", func() {
			ctx := context.Background()
			rep.EXPECT().GetCartLines(ctx, uid).Return(nil, nil)

			_, err := srv.Checkout(ctx, uid, model.CheckoutInput{Address: "14 Ngong Rd"})
			Expect(err).Should(Equal(internal.ErrCartEmpty))
		})
	})

	Context("cart", func() {
		product := model.Product{
			ID:        "moringa-250",
			Name:      "Moringa Powder",
			BasePrice: model.RawPrice{Text: "KES 1,200.50"},
			Stock:     10,
			Variants: []model.Variant{{
				ID:        "moringa-1kg",
				Name:      "1kg",
				BasePrice: model.RawPrice{Text: "4000"},
				Stock:     2,
			}},
		}

		It("snapshots variant price data when adding", func() {
			ctx := context.Background()
			rep.EXPECT().GetProductByID(ctx, product.ID).Return(product, nil)
			rep.EXPECT().AddCartLine(ctx, uid, gomock.Any()).DoAndReturn(func(_ context.Context, _ int, l model.CartLine) error {
				Expect(l.VariantID).To(Equal("moringa-1kg"))
				Expect(l.UnitBasePrice.Text).To(Equal("4000"))
				Expect(l.Quantity).To(Equal(2))
				return nil
			})
			rep.EXPECT().GetCartLines(ctx, uid).Return(nil, nil).Times(2)

			_, err := srv.AddToCart(ctx, uid, model.AddToCartInput{ProductID: product.ID, VariantID: "moringa-1kg", Quantity: 2})
			Expect(err).ShouldNot(HaveOccurred())
		})
		It("refuses a quantity beyond stock", func() {
			ctx := context.Background()
			rep.EXPECT().GetProductByID(ctx, product.ID).Return(product, nil)
			rep.EXPECT().GetCartLines(ctx, uid).Return(nil, nil)

			_, err := srv.AddToCart(ctx, uid, model.AddToCartInput{ProductID: product.ID, VariantID: "moringa-1kg", Quantity: 3})
			Expect(err).Should(Equal(internal.ErrOutOfStock))
		})
		It("caps the merged quantity when re-adding the same variant", func() {
			ctx := context.Background()
			existing := []model.CartLine{{
				ID:        "line-1",
				ProductID: product.ID,
				VariantID: "moringa-1kg",
				Quantity:  1,
			}}
			rep.EXPECT().GetProductByID(ctx, product.ID).Return(product, nil)
			rep.EXPECT().GetCartLines(ctx, uid).Return(existing, nil)

			_, err := srv.AddToCart(ctx, uid, model.AddToCartInput{ProductID: product.ID, VariantID: "moringa-1kg", Quantity: 2})
			Expect(err).Should(Equal(internal.ErrOutOfStock))
		})
		It("refuses a quantity update beyond stock", func() {
			ctx := context.Background()
			existing := []model.CartLine{{
				ID:        "line-1",
				ProductID: product.ID,
				VariantID: "moringa-1kg",
				Quantity:  2,
			}}
			rep.EXPECT().GetCartLines(ctx, uid).Return(existing, nil)
			rep.EXPECT().GetProductByID(ctx, product.ID).Return(product, nil)

			_, err := srv.UpdateCartQuantity(ctx, uid, "line-1", 5)
			Expect(err).Should(Equal(internal.ErrOutOfStock))
		})
		It("reports an unknown cart line before touching stock", func() {
			ctx := context.Background()
			rep.EXPECT().GetCartLines(ctx, uid).Return(nil, nil)

			_, err := srv.UpdateCartQuantity(ctx, uid, "line-9", 2)
			Expect(err).Should(Equal(internal.ErrNotFound))
		})
		It("prices the cart with tier discounts applied", func() {
			ctx := context.Background()
			lines := []model.CartLine{{
				UnitBasePrice: model.RawPrice{Text: "100"},
				Tiers:         []model.PricingTier{{MinQuantity: 5, UnitPrice: model.RawPrice{Text: "90"}}},
				Quantity:      5,
			}}
			rep.EXPECT().GetCartLines(ctx, uid).Return(lines, nil)

			cart, err := srv.GetCart(ctx, uid)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(cart.Lines[0].UnitPrice.String()).To(Equal("90"))
			Expect(cart.Subtotal.String()).To(Equal("450"))
		})
	})
})
