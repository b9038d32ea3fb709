package internal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Top-G-420/Rue-Organics/internal/model"
)

type Handlers struct {
	Service     IService
	Coordinator *SyncCoordinator
	secret      string
	logger      *zap.SugaredLogger
}

func NewHandlers(service IService, coordinator *SyncCoordinator, secret string, logger *zap.SugaredLogger) *Handlers {
	return &Handlers{Service: service, Coordinator: coordinator, secret: secret, logger: logger}
}

func (h *Handlers) Login(c *fiber.Ctx) error {
	var i model.LoginInput

	if err := c.BodyParser(&i); err != nil {
		h.logger.Errorf("Error on login request: %s", err.Error())
		return c.SendStatus(fiber.StatusBadRequest)
	}

	t, err := h.Service.Login(c.Context(), i.Login, i.Password)
	if err != nil {
		h.logger.Errorf("Error on login request: %s", err.Error())
		if errors.Is(err, ErrInvalidCredentials) {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	setAuthCookie(c, t)
	return c.SendStatus(fiber.StatusOK)
}

func (h *Handlers) Register(c *fiber.Ctx) error {
	var i model.LoginInput

	if err := c.BodyParser(&i); err != nil {
		h.logger.Errorf("Error on register request: %s", err.Error())
		return c.SendStatus(fiber.StatusBadRequest)
	}

	t, err := h.Service.Register(c.Context(), i.Login, i.Password)
	if err != nil {
		h.logger.Errorf("Error on register request: %s", err.Error())
		if errors.Is(err, ErrLoginIsAlreadyTaken) {
			return c.SendStatus(fiber.StatusConflict)
		}
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	setAuthCookie(c, t)
	return c.SendStatus(fiber.StatusOK)
}

func (h *Handlers) GetProducts(c *fiber.Ctx) error {
	products, err := h.Service.GetProducts(c.Context())
	if err != nil {
		if errors.Is(err, ErrNoRecords) {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return h.internalError(c, "Error on products request", err)
	}

	return c.Status(fiber.StatusOK).JSON(products)
}

func (h *Handlers) GetProduct(c *fiber.Ctx) error {
	p, err := h.Service.GetProductByID(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.SendStatus(fiber.StatusNotFound)
		}
		return h.internalError(c, "Error on product request", err)
	}

	return c.Status(fiber.StatusOK).JSON(p)
}

func (h *Handlers) GetCart(c *fiber.Ctx) error {
	uid, err := h.userID(c)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	cart, err := h.Service.GetCart(c.Context(), uid)
	if err != nil {
		return h.internalError(c, "Error on cart request", err)
	}

	return c.Status(fiber.StatusOK).JSON(cart)
}

func (h *Handlers) AddToCart(c *fiber.Ctx) error {
	uid, err := h.userID(c)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	var i model.AddToCartInput
	if err = c.BodyParser(&i); err != nil || i.ProductID == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	cart, err := h.Service.AddToCart(c.Context(), uid, i)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.SendStatus(fiber.StatusNotFound)
		}
		if errors.Is(err, ErrOutOfStock) {
			return c.SendStatus(fiber.StatusConflict)
		}
		return h.internalError(c, "Error on add to cart request", err)
	}

	return c.Status(fiber.StatusOK).JSON(cart)
}

func (h *Handlers) UpdateCartLine(c *fiber.Ctx) error {
	uid, err := h.userID(c)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	var i model.UpdateQuantityInput
	if err = c.BodyParser(&i); err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	cart, err := h.Service.UpdateCartQuantity(c.Context(), uid, c.Params("id"), i.Quantity)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.SendStatus(fiber.StatusNotFound)
		}
		if errors.Is(err, ErrOutOfStock) {
			return c.SendStatus(fiber.StatusConflict)
		}
		if errors.Is(err, ErrCartEmpty) {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		return h.internalError(c, "Error on cart update request", err)
	}

	return c.Status(fiber.StatusOK).JSON(cart)
}

func (h *Handlers) RemoveFromCart(c *fiber.Ctx) error {
	uid, err := h.userID(c)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	cart, err := h.Service.RemoveFromCart(c.Context(), uid, c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.SendStatus(fiber.StatusNotFound)
		}
		return h.internalError(c, "Error on cart remove request", err)
	}

	return c.Status(fiber.StatusOK).JSON(cart)
}

func (h *Handlers) ClearCart(c *fiber.Ctx) error {
	uid, err := h.userID(c)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	if err = h.Service.ClearCart(c.Context(), uid); err != nil {
		return h.internalError(c, "Error on cart clear request", err)
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *Handlers) Checkout(c *fiber.Ctx) error {
	uid, err := h.userID(c)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	var i model.CheckoutInput
	if err = c.BodyParser(&i); err != nil || i.Address == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	o, err := h.Service.Checkout(c.Context(), uid, i)
	if err != nil {
		if errors.Is(err, ErrCartEmpty) {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		return h.internalError(c, "Error on checkout request", err)
	}

	return c.Status(fiber.StatusCreated).JSON(o)
}

func (h *Handlers) GetOrders(c *fiber.Ctx) error {
	uid, err := h.userID(c)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	orders, err := h.Service.GetOrders(c.Context(), uid)
	if err != nil {
		if errors.Is(err, ErrNoRecords) {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return h.internalError(c, "Error on orders request", err)
	}

	return c.Status(fiber.StatusOK).JSON(orders)
}

func (h *Handlers) GetOrder(c *fiber.Ctx) error {
	uid, err := h.userID(c)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	o, err := h.Service.GetOrder(c.Context(), c.Params("number"), uid)
	if err != nil {
		return h.orderError(c, "Error on order request", err)
	}

	return c.Status(fiber.StatusOK).JSON(o)
}

func (h *Handlers) AdvanceOrder(c *fiber.Ctx) error {
	uid, err := h.userID(c)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	o, err := h.Service.AdvanceOrder(c.Context(), c.Params("number"), uid)
	if err != nil {
		return h.orderError(c, "Error on advance request", err)
	}

	return c.Status(fiber.StatusOK).JSON(o)
}

func (h *Handlers) ConfirmReceipt(c *fiber.Ctx) error {
	uid, err := h.userID(c)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	o, err := h.Service.ConfirmOrderReceipt(c.Context(), c.Params("number"), uid)
	if err != nil {
		return h.orderError(c, "Error on receipt request", err)
	}

	return c.Status(fiber.StatusOK).JSON(o)
}

// OrderEvents streams order snapshots over SSE. The watch tears down when
// the client disconnects: the writer notices on the next flush and cancels
// the coordinator context.
func (h *Handlers) OrderEvents(c *fiber.Ctx) error {
	uid, err := h.userID(c)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	number := c.Params("number")
	ctx, cancel := context.WithCancel(context.Background())

	snapshots, err := h.Coordinator.WatchOrder(ctx, number, uid, nil)
	if err != nil {
		cancel()
		return h.orderError(c, "Error on order events request", err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()

		for snapshot := range snapshots {
			payload, err := json.Marshal(snapshot)
			if err != nil {
				h.logger.Errorf("Error encoding order %s snapshot: %s", number, err)
				return
			}

			fmt.Fprintf(w, "data: %s\n\n", payload)
			if err = w.Flush(); err != nil {
				return
			}
		}
	}))

	return nil
}

func (h *Handlers) orderError(c *fiber.Ctx, msg string, err error) error {
	h.logger.Errorf("%s: %s", msg, err.Error())

	switch {
	case errors.Is(err, ErrNotFound):
		return c.SendStatus(fiber.StatusNotFound)
	case errors.Is(err, ErrAccessDenied):
		return c.SendStatus(fiber.StatusForbidden)
	case errors.Is(err, ErrLuhnInvalid):
		return c.SendStatus(fiber.StatusUnprocessableEntity)
	case errors.Is(err, ErrReceiptNotReady):
		return c.SendStatus(fiber.StatusConflict)
	case errors.Is(err, ErrTransitionFailed):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": "error", "message": "transition was not saved, retry", "data": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": "error", "message": msg, "data": err.Error()})
	}
}

func (h *Handlers) internalError(c *fiber.Ctx, msg string, err error) error {
	h.logger.Errorf("%s: %s", msg, err.Error())
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": "error", "message": msg, "data": err.Error()})
}

func setAuthCookie(c *fiber.Ctx, token string) {
	cookie := &fiber.Cookie{
		Name:    "token",
		Value:   token,
		Path:    "/",
		Expires: time.Now().Add(24 * time.Hour),
	}

	c.Cookie(cookie)
}

func (h *Handlers) userID(c *fiber.Ctx) (int, error) {
	tokenString := c.Cookies("token")
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(h.secret), nil
	})
	if err != nil {
		return 0, err
	}

	id, ok := claims["id"].(string)
	if !ok {
		return 0, ErrInvalidCredentials
	}
	return strconv.Atoi(id)
}
