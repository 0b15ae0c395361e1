package errors

import sterrors "errors"

var (
	ErrLoggerRequired     = sterrors.New("chatbridge: logger is required")
	ErrPublisherRequired  = sterrors.New("chatbridge: publisher is required")
	ErrSubscriberRequired = sterrors.New("chatbridge: subscriber is required")
	ErrConfigRequired     = sterrors.New("chatbridge: config is required")
	ErrChannelIDRequired  = sterrors.New("chatbridge: channel id is required")
	ErrCommandRequired    = sterrors.New("chatbridge: command is required")
	ErrStoreRequired      = sterrors.New("chatbridge: status store is required")
	ErrForwarderRequired  = sterrors.New("chatbridge: forwarder is required")
	ErrKeyProviderRequired = sterrors.New("chatbridge: key provider is required")
	ErrDispatcherClosed   = sterrors.New("chatbridge: dispatcher is not running")
)
