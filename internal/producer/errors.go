package producer

import "errors"

// ErrPermitExhausted signals RequestNewRange couldn't reserve enough send
// capacity on its reply channel; the caller should re-enqueue and retry.
var ErrPermitExhausted = errors.New("producer: permit exhausted")

// ErrProducerChannelClosed signals the reader thread disconnected; the
// actor transitions to Disconnected and keeps serving queries.
var ErrProducerChannelClosed = errors.New("producer: channel closed")
