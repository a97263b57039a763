package match

import "errors"

var (
	ErrInvalidParam       = errors.New("the param is invalid")
	ErrTimeout            = errors.New("timeout")
	ErrShutdown           = errors.New("market is shutting down")
	ErrUnknownSymbol      = errors.New("symbol is not traded by this market")
	ErrQueueFull          = errors.New("work queue is full")
	ErrBookFull           = errors.New("order book side is full")
	ErrCancelNotSupported = errors.New("order cancellation is not supported")
	ErrTradeLog           = errors.New("trade log append failed")
)
