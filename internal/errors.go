package internal

import "errors"

var (
	ErrLoginIsAlreadyTaken = errors.New("login is already taken")
	ErrInvalidCredentials  = errors.New("invalid credentials")

	ErrInvalidPriceFormat = errors.New("price has no numeric value")
	ErrStageDecodeFailure = errors.New("stage history is not decodable")

	ErrTransitionFailed = errors.New("stage transition was not persisted")
	ErrReceiptNotReady  = errors.New("order is not awaiting receipt confirmation")
	ErrAccessDenied     = errors.New("order belongs to another user")
	ErrNotFound         = errors.New("no matching record")
	ErrNoRecords        = errors.New("no records")

	ErrLuhnInvalid     = errors.New("number invalid by luhn")
	ErrNumberCollision = errors.New("order number already assigned")

	ErrCartEmpty  = errors.New("cart is empty")
	ErrOutOfStock = errors.New("not enough stock")
)
