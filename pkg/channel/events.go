package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// eventsExchange is the topic exchange the node publishes events to.
	eventsExchange = "connext.events"
	// unlockedRoutingPrefix is completed by the subscriber's public identifier.
	unlockedRoutingPrefix = "transfer.unlocked."
)

type paymentUnlockedPayload struct {
	PaymentID string `json:"paymentId"`
	Amount    string `json:"amount"`
	AssetID   string `json:"assetId"`
	Meta      struct {
		Sender string `json:"sender"`
	} `json:"meta"`
}

// SubscribePaymentUnlocked binds a durable queue to this client's unlock
// events and dispatches each decoded event to fn. Deliveries are acked
// exactly once whether or not fn is invoked; malformed payloads are logged
// and dropped, never redelivered.
func (c *Client) SubscribePaymentUnlocked(queue string, fn func(PaymentUnlockedEvent)) error {
	if c.ch == nil {
		return errors.New("subscribe: no messaging endpoint configured")
	}
	if fn == nil {
		return errors.New("subscribe: handler is required")
	}

	if err := c.ch.ExchangeDeclare(eventsExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := c.ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	routingKey := unlockedRoutingPrefix + c.publicIdentifier
	if err := c.ch.QueueBind(q.Name, routingKey, eventsExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	log := c.log.With().Str("queue", q.Name).Str("routing_key", routingKey).Logger()
	go func() {
		for d := range msgs {
			event, err := decodePaymentUnlocked(d.Body)
			if err != nil {
				log.Error().Err(err).Msg("dropping malformed unlock event")
				d.Ack(false)
				continue
			}
			fn(event)
			d.Ack(false)
		}
	}()

	log.Info().Msg("subscribed to payment unlock events")
	return nil
}

func decodePaymentUnlocked(body []byte) (PaymentUnlockedEvent, error) {
	var payload paymentUnlockedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return PaymentUnlockedEvent{}, fmt.Errorf("unmarshal: %w", err)
	}
	if payload.PaymentID == "" {
		return PaymentUnlockedEvent{}, errors.New("missing paymentId")
	}
	if payload.Meta.Sender == "" {
		return PaymentUnlockedEvent{}, errors.New("missing meta.sender")
	}
	amount, ok := new(big.Int).SetString(payload.Amount, 10)
	if !ok {
		return PaymentUnlockedEvent{}, fmt.Errorf("unparsable amount %q", payload.Amount)
	}
	if amount.Sign() < 0 {
		return PaymentUnlockedEvent{}, fmt.Errorf("negative amount %s", amount)
	}
	return PaymentUnlockedEvent{
		PaymentID: payload.PaymentID,
		Amount:    amount,
		AssetID:   common.HexToAddress(payload.AssetID),
		Sender:    payload.Meta.Sender,
	}, nil
}
