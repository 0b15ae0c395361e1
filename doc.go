// Package chatbridge is the channel gateway of a multi-tenant messaging inbox:
// the layer that lets a stateless, horizontally-scaled API process control and
// observe a stateful executor process holding live connections to an external
// end-to-end-encrypted messaging network.
//
// It provides three things. The session store persists each channel's
// credential bundle and session key records encrypted at rest, loading keys
// lazily in batches so reconnect cost stays flat no matter how many keys a
// channel has accumulated. The command dispatcher turns an uncorrelated
// publish/subscribe transport into a synchronous call/response API with
// correlation ids, one shared response subscription, and exactly-once
// settlement against timeouts. The event relay consumes the executor's
// lifecycle and domain events, projects connection-state changes into a
// persisted channel status, and forwards everything to scoped real-time rooms.
//
// # Transports
//
// Chatbridge rides on Watermill and supports 8 transports out of the box:
//   - channel: in-memory Go channels for testing and single-process setups
//   - kafka: high-throughput streaming with consumer groups
//   - rabbitmq: AMQP-based durable queues
//   - nats: high-performance messaging
//   - nats-jetstream: durable NATS stream so events survive relay restarts
//   - aws: AWS SNS/SQS with LocalStack support
//   - http: webhook-style integration with executors behind plain HTTP
//   - sqlite: embedded persistent queue with retry backoff and dead letters
//
// Pick one via Config.PubSubSystem, or register a custom builder on the
// transport registry.
//
// A minimal setup fills Config, builds a transport, opens a session store for
// the executor side, and starts a Dispatcher and a Relay on the API side; see
// examples/inproc for the full loop in one process.
package chatbridge
