package internal

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/theplant/luhn"
	"go.uber.org/zap"

	"github.com/Top-G-420/Rue-Organics/internal/model"
)

type IService interface {
	Register(context.Context, string, string) (string, error)
	Login(context.Context, string, string) (string, error)
	GetJWTToken(string) (string, error)

	GetProducts(context.Context) ([]model.Product, error)
	GetProductByID(context.Context, string) (model.Product, error)

	GetCart(context.Context, int) (model.CartOutput, error)
	AddToCart(context.Context, int, model.AddToCartInput) (model.CartOutput, error)
	UpdateCartQuantity(context.Context, int, string, int) (model.CartOutput, error)
	RemoveFromCart(context.Context, int, string) (model.CartOutput, error)
	ClearCart(context.Context, int) error

	Checkout(context.Context, int, model.CheckoutInput) (model.OrderOutput, error)
	GetOrders(context.Context, int) ([]model.OrderOutput, error)
	GetOrder(context.Context, string, int) (model.OrderOutput, error)
	AdvanceOrder(context.Context, string, int) (model.OrderOutput, error)
	ConfirmOrderReceipt(context.Context, string, int) (model.OrderOutput, error)
}

type Service struct {
	Repository IRepository
	parser     *StageParser
	resolver   *PriceResolver
	secret     string
	logger     *zap.SugaredLogger
}

func NewService(repository IRepository, secret string, logger *zap.SugaredLogger) *Service {
	return &Service{
		Repository: repository,
		parser:     NewStageParser(logger),
		resolver:   NewPriceResolver(logger),
		secret:     secret,
		logger:     logger,
	}
}

func (s Service) Register(ctx context.Context, login, password string) (string, error) {
	exist, err := s.Repository.IsUserExist(ctx, login)
	if err != nil {
		return "", err
	}

	if exist {
		return "", ErrLoginIsAlreadyTaken
	}

	h := GetHash(password)
	id, err := s.Repository.Register(ctx, login, h)
	if err != nil {
		return "", err
	}

	return s.GetJWTToken(strconv.Itoa(id))
}

func (s Service) Login(ctx context.Context, login, password string) (string, error) {
	h := GetHash(password)
	id, err := s.Repository.CheckCredentials(ctx, login, h)
	if err != nil {
		return "", err
	}

	return s.GetJWTToken(strconv.Itoa(id))
}

func (s Service) GetJWTToken(uid string) (string, error) {
	claims := jwt.MapClaims{
		"id":  uid,
		"exp": time.Now().Add(time.Hour * 72).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	t, err := token.SignedString([]byte(s.secret))
	if err != nil {
		return "", err
	}

	return t, nil
}

func (s Service) GetProducts(ctx context.Context) ([]model.Product, error) {
	products, err := s.Repository.GetProducts(ctx)
	if err != nil {
		return nil, err
	}

	if len(products) == 0 {
		return nil, ErrNoRecords
	}
	return products, nil
}

func (s Service) GetProductByID(ctx context.Context, id string) (model.Product, error) {
	return s.Repository.GetProductByID(ctx, id)
}

func (s Service) GetCart(ctx context.Context, uid int) (model.CartOutput, error) {
	lines, err := s.Repository.GetCartLines(ctx, uid)
	if err != nil {
		return model.CartOutput{}, err
	}

	return s.cartOutput(lines), nil
}

func (s Service) AddToCart(ctx context.Context, uid int, in model.AddToCartInput) (model.CartOutput, error) {
	if in.Quantity < 1 {
		in.Quantity = 1
	}

	p, err := s.Repository.GetProductByID(ctx, in.ProductID)
	if err != nil {
		return model.CartOutput{}, err
	}

	line := model.CartLine{
		ID:            uuid.NewString(),
		ProductID:     p.ID,
		Name:          p.Name,
		UnitBasePrice: p.BasePrice,
		Tiers:         p.Tiers,
		Quantity:      in.Quantity,
	}
	stock := p.Stock

	if in.VariantID != "" {
		v, err := findVariant(p, in.VariantID)
		if err != nil {
			return model.CartOutput{}, err
		}
		line.VariantID = v.ID
		line.Name = p.Name + " " + v.Name
		line.UnitBasePrice = v.BasePrice
		line.Tiers = v.Tiers
		stock = v.Stock
	}

	// Re-adding merges into the existing line, so the cap applies to the
	// accumulated quantity, not just this request.
	lines, err := s.Repository.GetCartLines(ctx, uid)
	if err != nil {
		return model.CartOutput{}, err
	}
	requested := in.Quantity
	for _, l := range lines {
		if l.ProductID == line.ProductID && l.VariantID == line.VariantID {
			requested += l.Quantity
		}
	}
	if requested > stock {
		return model.CartOutput{}, ErrOutOfStock
	}

	if err = s.Repository.AddCartLine(ctx, uid, line); err != nil {
		return model.CartOutput{}, err
	}

	return s.GetCart(ctx, uid)
}

func (s Service) UpdateCartQuantity(ctx context.Context, uid int, lineID string, quantity int) (model.CartOutput, error) {
	if quantity < 1 {
		return model.CartOutput{}, ErrCartEmpty
	}

	lines, err := s.Repository.GetCartLines(ctx, uid)
	if err != nil {
		return model.CartOutput{}, err
	}
	var target *model.CartLine
	for i := range lines {
		if lines[i].ID == lineID {
			target = &lines[i]
			break
		}
	}
	if target == nil {
		return model.CartOutput{}, ErrNotFound
	}

	stock, err := s.lineStock(ctx, *target)
	if err != nil {
		return model.CartOutput{}, err
	}
	if quantity > stock {
		return model.CartOutput{}, ErrOutOfStock
	}

	if err := s.Repository.UpdateCartQuantity(ctx, uid, lineID, quantity); err != nil {
		return model.CartOutput{}, err
	}

	return s.GetCart(ctx, uid)
}

func (s Service) lineStock(ctx context.Context, l model.CartLine) (int, error) {
	p, err := s.Repository.GetProductByID(ctx, l.ProductID)
	if err != nil {
		return 0, err
	}
	if l.VariantID == "" {
		return p.Stock, nil
	}

	v, err := findVariant(p, l.VariantID)
	if err != nil {
		return 0, err
	}
	return v.Stock, nil
}

func (s Service) RemoveFromCart(ctx context.Context, uid int, lineID string) (model.CartOutput, error) {
	if err := s.Repository.DeleteCartLine(ctx, uid, lineID); err != nil {
		return model.CartOutput{}, err
	}

	return s.GetCart(ctx, uid)
}

func (s Service) ClearCart(ctx context.Context, uid int) error {
	return s.Repository.ClearCart(ctx, uid)
}

// Checkout turns the cart into an order: effective unit prices are resolved
// once and frozen on the order lines, the default workflow is attached with
// "Order Placed" completed, and the cart is cleared with the insert.
func (s Service) Checkout(ctx context.Context, uid int, in model.CheckoutInput) (model.OrderOutput, error) {
	lines, err := s.Repository.GetCartLines(ctx, uid)
	if err != nil {
		return model.OrderOutput{}, err
	}
	if len(lines) == 0 {
		return model.OrderOutput{}, ErrCartEmpty
	}

	now := time.Now()
	items := make([]model.OrderLine, 0, len(lines))
	total := decimal.Zero
	for _, l := range lines {
		unit := s.resolver.UnitPrice(l.UnitBasePrice, l.Tiers, l.Quantity)
		lineTotal := unit.Mul(decimal.NewFromInt(int64(l.Quantity)))

		items = append(items, model.OrderLine{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: unit,
			LineTotal: lineTotal,
		})
		total = total.Add(lineTotal)
	}

	stages := DefaultStages(now)
	encoded, err := EncodeStages(stages)
	if err != nil {
		return model.OrderOutput{}, err
	}

	o := model.Order{
		OwnerID:   uid,
		Items:     items,
		RawStages: encoded,
		Stages:    stages,
		Delivery:  &model.DeliveryInfo{Address: in.Address, Instructions: in.Instructions},
		Status:    model.StagePaymentPending,
		Total:     total,
		CreatedAt: now,
	}

	for attempt := 0; ; attempt++ {
		o.Number = newOrderNumber()
		err = s.Repository.CreateOrder(ctx, o)
		if !errors.Is(err, ErrNumberCollision) || attempt == orderNumberRetries {
			break
		}
		s.logger.Warnf("order number %s collided, retrying", o.Number)
	}
	if err != nil {
		return model.OrderOutput{}, err
	}

	return s.orderOutput(o, stages, o.Delivery), nil
}

func (s Service) GetOrders(ctx context.Context, uid int) ([]model.OrderOutput, error) {
	orders, err := s.Repository.GetOrders(ctx, uid)
	if err != nil {
		return nil, err
	}

	if len(orders) == 0 {
		return nil, ErrNoRecords
	}

	out := make([]model.OrderOutput, 0, len(orders))
	for _, o := range orders {
		stages, delivery := s.parser.Parse(o.RawStages, o.CreatedAt)
		out = append(out, s.orderOutput(o, stages, delivery))
	}
	return out, nil
}

func (s Service) GetOrder(ctx context.Context, number string, uid int) (model.OrderOutput, error) {
	o, err := s.getOwnedOrder(ctx, number, uid)
	if err != nil {
		return model.OrderOutput{}, err
	}

	stages, delivery := s.parser.Parse(o.RawStages, o.CreatedAt)
	return s.orderOutput(o, stages, delivery), nil
}

// AdvanceOrder completes the current workflow stage and moves the status to
// the next one. Already-terminal orders pass through unchanged. The stored
// record is only swapped in after the conditional update succeeds, so a
// failed write leaves local state untouched.
func (s Service) AdvanceOrder(ctx context.Context, number string, uid int) (model.OrderOutput, error) {
	o, err := s.getOwnedOrder(ctx, number, uid)
	if err != nil {
		return model.OrderOutput{}, err
	}

	stages, delivery := s.parser.Parse(o.RawStages, o.CreatedAt)
	next, status, changed := AdvanceStages(stages, time.Now())
	if !changed {
		return s.orderOutput(o, stages, delivery), nil
	}

	if err = s.persistStages(ctx, number, uid, next, status, s.deliveryBackfill(o, delivery)); err != nil {
		return model.OrderOutput{}, err
	}

	o.Status = status
	return s.orderOutput(o, next, delivery), nil
}

// ConfirmOrderReceipt is the buyer-side terminal transition: it completes
// the final "Delivered" stage once everything before it is done.
func (s Service) ConfirmOrderReceipt(ctx context.Context, number string, uid int) (model.OrderOutput, error) {
	o, err := s.getOwnedOrder(ctx, number, uid)
	if err != nil {
		return model.OrderOutput{}, err
	}

	stages, delivery := s.parser.Parse(o.RawStages, o.CreatedAt)
	next, status, err := ConfirmReceipt(stages, time.Now())
	if err != nil {
		return model.OrderOutput{}, err
	}

	if err = s.persistStages(ctx, number, uid, next, status, s.deliveryBackfill(o, delivery)); err != nil {
		return model.OrderOutput{}, err
	}

	o.Status = status
	return s.orderOutput(o, next, delivery), nil
}

func (s Service) getOwnedOrder(ctx context.Context, number string, uid int) (model.Order, error) {
	n, err := strconv.Atoi(number)
	if err != nil || !luhn.Valid(n) {
		return model.Order{}, ErrLuhnInvalid
	}

	o, err := s.Repository.GetOrderByNumber(ctx, number)
	if err != nil {
		return model.Order{}, err
	}

	if o.OwnerID != uid {
		return model.Order{}, ErrAccessDenied
	}
	return o, nil
}

// deliveryBackfill returns the parsed legacy delivery info when the stored
// column is still empty. Canonical encoding drops the legacy address-carrying
// record, so the first stage write has to carry it over or it is gone.
func (s Service) deliveryBackfill(o model.Order, parsed *model.DeliveryInfo) *model.DeliveryInfo {
	if o.Delivery == nil {
		return parsed
	}
	return nil
}

func (s Service) persistStages(ctx context.Context, number string, uid int, stages []model.Stage, status string, backfill *model.DeliveryInfo) error {
	encoded, err := EncodeStages(stages)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTransitionFailed, err)
	}

	var delivery []byte
	if backfill != nil {
		if delivery, err = json.Marshal(backfill); err != nil {
			return fmt.Errorf("%w: %s", ErrTransitionFailed, err)
		}
	}

	err = s.Repository.UpdateOrderStages(ctx, number, uid, encoded, status, delivery)
	if errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTransitionFailed, err)
	}
	return nil
}

func (s Service) orderOutput(o model.Order, stages []model.Stage, parsed *model.DeliveryInfo) model.OrderOutput {
	delivery := o.Delivery
	if delivery == nil {
		delivery = parsed
	}

	return model.OrderOutput{
		Number:    o.Number,
		Status:    o.Status,
		Items:     o.Items,
		Stages:    stages,
		Delivery:  delivery,
		Total:     o.Total,
		CreatedAt: o.CreatedAt,
	}
}

func (s Service) cartOutput(lines []model.CartLine) model.CartOutput {
	out := model.CartOutput{Subtotal: decimal.Zero}
	for _, l := range lines {
		unit := s.resolver.UnitPrice(l.UnitBasePrice, l.Tiers, l.Quantity)
		lineTotal := unit.Mul(decimal.NewFromInt(int64(l.Quantity)))

		out.Lines = append(out.Lines, model.CartLineOutput{
			CartLine:  l,
			UnitPrice: unit,
			LineTotal: lineTotal,
		})
		out.Subtotal = out.Subtotal.Add(lineTotal)
	}
	return out
}

func findVariant(p model.Product, id string) (model.Variant, error) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, nil
		}
	}
	return model.Variant{}, ErrNotFound
}

const orderNumberRetries = 3

// newOrderNumber mixes a random suffix into the clock-derived base so two
// checkouts in the same instant still get distinct numbers; the unique
// constraint plus a retry covers the rest.
func newOrderNumber() string {
	base := int(time.Now().UnixNano()%1e12)*1000 + rand.Intn(1000)
	return strconv.Itoa(base*10 + luhn.CalculateLuhn(base))
}

func GetHash(s string) string {
	h := sha256.New()
	ph := h.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(ph)
}
