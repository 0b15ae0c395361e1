package chatbridge

import (
	configpkg "github.com/drblury/chatbridge/internal/bridge/config"
	dispatchpkg "github.com/drblury/chatbridge/internal/bridge/dispatch"
	errspkg "github.com/drblury/chatbridge/internal/bridge/errors"
	idspkg "github.com/drblury/chatbridge/internal/bridge/ids"
	jsoncodec "github.com/drblury/chatbridge/internal/bridge/jsoncodec"
	loggingpkg "github.com/drblury/chatbridge/internal/bridge/logging"
	relaypkg "github.com/drblury/chatbridge/internal/bridge/relay"
	sessionpkg "github.com/drblury/chatbridge/internal/bridge/session"
	topicspkg "github.com/drblury/chatbridge/internal/bridge/topics"
	transportpkg "github.com/drblury/chatbridge/internal/bridge/transport"
)

type (
	Config = configpkg.Config

	// Session store
	SessionStore      = sessionpkg.Store
	Session           = sessionpkg.Session
	SessionMetadata   = sessionpkg.Metadata
	KeyAccessor       = sessionpkg.KeyAccessor
	KeyType           = sessionpkg.KeyType
	KeyProvider       = sessionpkg.KeyProvider
	StaticKeyProvider = sessionpkg.StaticKeyProvider
	CorruptionError   = sessionpkg.CorruptionError

	// Command dispatcher
	Dispatcher     = dispatchpkg.Dispatcher
	Command        = dispatchpkg.Command
	CallOption     = dispatchpkg.CallOption
	Response       = dispatchpkg.Response
	TimeoutError   = dispatchpkg.TimeoutError
	ExecutionError = dispatchpkg.ExecutionError
	TransportError = dispatchpkg.TransportError

	Connect            = dispatchpkg.Connect
	Disconnect         = dispatchpkg.Disconnect
	Reconnect          = dispatchpkg.Reconnect
	RequestPairingCode = dispatchpkg.RequestPairingCode
	SendMessage        = dispatchpkg.SendMessage
	SendPoll           = dispatchpkg.SendPoll
	EditMessage        = dispatchpkg.EditMessage
	DeleteMessage      = dispatchpkg.DeleteMessage
	React              = dispatchpkg.React
	GetProfilePicture  = dispatchpkg.GetProfilePicture
	RawCommand         = dispatchpkg.RawCommand
	SendResult         = dispatchpkg.SendResult
	PairingCode        = dispatchpkg.PairingCode
	ProfilePicture     = dispatchpkg.ProfilePicture

	// Event relay
	Relay             = relaypkg.Relay
	ChannelEvent      = relaypkg.ChannelEvent
	EventKind         = relaypkg.EventKind
	ChannelStatus     = relaypkg.ChannelStatus
	Status            = relaypkg.Status
	StatusStore       = relaypkg.StatusStore
	SQLiteStatusStore = relaypkg.SQLiteStatusStore
	Forwarder         = relaypkg.Forwarder

	// Logging
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Transport plumbing
	Transport         = transportpkg.Transport
	TransportBuilder  = transportpkg.Builder
	TransportConfig   = transportpkg.Config
	TransportRegistry = transportpkg.Registry
	SQLiteBus         = transportpkg.SQLiteBus
)

var (
	ValidateConfig = configpkg.ValidateConfig

	// Session store
	OpenSessionStore     = sessionpkg.Open
	NewStaticKeyProvider = sessionpkg.NewStaticKeyProvider
	IsSessionCorruption  = sessionpkg.IsCorruption

	// Command dispatcher
	NewDispatcher     = dispatchpkg.NewDispatcher
	WithTimeout       = dispatchpkg.WithTimeout
	ErrCommandTimeout = dispatchpkg.ErrCommandTimeout

	// Event relay
	NewRelay                = relaypkg.NewRelay
	OpenStatusStore         = relaypkg.OpenStatusStore
	NewPublisherForwarder   = relaypkg.NewPublisherForwarder
	ForwardProtoDomainEvent = relaypkg.ForwardProtoDomainEvent
	ErrChannelUnknown       = relaypkg.ErrChannelUnknown

	// Topics
	CommandRequestTopic   = topicspkg.CommandRequest
	CommandResponsesTopic = topicspkg.CommandResponses
	ChannelRoomTopic      = topicspkg.ChannelRoom
	OrgRoomTopic          = topicspkg.OrgRoom

	// Transport registry
	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build
	NewSQLiteBus             = transportpkg.NewSQLiteBus

	// Logging
	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter
	NopLogger                 = loggingpkg.NopLogger

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrLoggerRequired      = errspkg.ErrLoggerRequired
	ErrPublisherRequired   = errspkg.ErrPublisherRequired
	ErrSubscriberRequired  = errspkg.ErrSubscriberRequired
	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrChannelIDRequired   = errspkg.ErrChannelIDRequired
	ErrCommandRequired     = errspkg.ErrCommandRequired
	ErrStoreRequired       = errspkg.ErrStoreRequired
	ErrForwarderRequired   = errspkg.ErrForwarderRequired
	ErrKeyProviderRequired = errspkg.ErrKeyProviderRequired
	ErrDispatcherClosed    = errspkg.ErrDispatcherClosed

	CreateULID = idspkg.CreateULID
)

// Key types for session key records.
const (
	KeyTypePreKey              = sessionpkg.KeyTypePreKey
	KeyTypeSession             = sessionpkg.KeyTypeSession
	KeyTypeSenderKey           = sessionpkg.KeyTypeSenderKey
	KeyTypeSenderKeyMemory     = sessionpkg.KeyTypeSenderKeyMemory
	KeyTypeAppStateSyncKey     = sessionpkg.KeyTypeAppStateSyncKey
	KeyTypeAppStateSyncVersion = sessionpkg.KeyTypeAppStateSyncVersion
	KeyTypeLIDMapping          = sessionpkg.KeyTypeLIDMapping
	KeyTypeDeviceList          = sessionpkg.KeyTypeDeviceList
	KeyTypeTCToken             = sessionpkg.KeyTypeTCToken
)

// Event kinds carried on the shared events topic.
const (
	EventQRIssued     = relaypkg.EventQRIssued
	EventConnected    = relaypkg.EventConnected
	EventDisconnected = relaypkg.EventDisconnected
	EventDomain       = relaypkg.EventDomain
)

// Channel connection states.
const (
	StatusDisconnected = relaypkg.StatusDisconnected
	StatusConnecting   = relaypkg.StatusConnecting
	StatusConnected    = relaypkg.StatusConnected
)

// Metadata keys shared with the executor contract.
const (
	MetadataReplyTo   = dispatchpkg.MetadataReplyTo
	MetadataCommand   = dispatchpkg.MetadataCommand
	MetadataChannelID = dispatchpkg.MetadataChannelID
)

// DefaultEventsTopic is the topic the executor publishes lifecycle and domain
// events on unless Config.EventsTopic overrides it.
const DefaultEventsTopic = topicspkg.DefaultEventsTopic
