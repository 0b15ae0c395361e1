package dispatch

import (
	"context"
	"encoding/json"

	"github.com/drblury/chatbridge/internal/bridge/jsoncodec"
)

// Typed wrappers over Dispatch, one per channel operation.

// Connect brings the channel's connection up.
func (d *Dispatcher) Connect(ctx context.Context, channelID string, opts ...CallOption) error {
	_, err := d.Dispatch(ctx, channelID, Connect{}, opts...)
	return err
}

// Disconnect tears the channel's connection down.
func (d *Dispatcher) Disconnect(ctx context.Context, channelID string, opts ...CallOption) error {
	_, err := d.Dispatch(ctx, channelID, Disconnect{}, opts...)
	return err
}

// Reconnect cycles the channel's connection.
func (d *Dispatcher) Reconnect(ctx context.Context, channelID string, opts ...CallOption) error {
	_, err := d.Dispatch(ctx, channelID, Reconnect{}, opts...)
	return err
}

// RequestPairingCode asks for a phone-number pairing code.
func (d *Dispatcher) RequestPairingCode(ctx context.Context, channelID, phoneNumber string, opts ...CallOption) (PairingCode, error) {
	result, err := d.Dispatch(ctx, channelID, RequestPairingCode{PhoneNumber: phoneNumber}, opts...)
	if err != nil {
		return PairingCode{}, err
	}
	return decodeResult[PairingCode](result)
}

// SendMessage sends a text message and returns the assigned message id.
func (d *Dispatcher) SendMessage(ctx context.Context, channelID string, cmd SendMessage, opts ...CallOption) (SendResult, error) {
	result, err := d.Dispatch(ctx, channelID, cmd, opts...)
	if err != nil {
		return SendResult{}, err
	}
	return decodeResult[SendResult](result)
}

// SendPoll sends a poll message and returns the assigned message id.
func (d *Dispatcher) SendPoll(ctx context.Context, channelID string, cmd SendPoll, opts ...CallOption) (SendResult, error) {
	result, err := d.Dispatch(ctx, channelID, cmd, opts...)
	if err != nil {
		return SendResult{}, err
	}
	return decodeResult[SendResult](result)
}

// EditMessage replaces the text of a sent message.
func (d *Dispatcher) EditMessage(ctx context.Context, channelID string, cmd EditMessage, opts ...CallOption) error {
	_, err := d.Dispatch(ctx, channelID, cmd, opts...)
	return err
}

// DeleteMessage revokes a sent message.
func (d *Dispatcher) DeleteMessage(ctx context.Context, channelID string, cmd DeleteMessage, opts ...CallOption) error {
	_, err := d.Dispatch(ctx, channelID, cmd, opts...)
	return err
}

// React attaches or removes an emoji reaction.
func (d *Dispatcher) React(ctx context.Context, channelID string, cmd React, opts ...CallOption) error {
	_, err := d.Dispatch(ctx, channelID, cmd, opts...)
	return err
}

// GetProfilePicture fetches a contact's profile picture URL.
func (d *Dispatcher) GetProfilePicture(ctx context.Context, channelID string, cmd GetProfilePicture, opts ...CallOption) (ProfilePicture, error) {
	result, err := d.Dispatch(ctx, channelID, cmd, opts...)
	if err != nil {
		return ProfilePicture{}, err
	}
	return decodeResult[ProfilePicture](result)
}

func decodeResult[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := jsoncodec.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
