package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "transfers.9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", Subject("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"))
}

func TestTransferEventOmitsUnknownMint(t *testing.T) {
	data, err := json.Marshal(&TransferEvent{Signature: "sig", Category: "send-native", UIAmount: "1.000000000"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "mint")
	assert.NotContains(t, decoded, "decimals")
	assert.Equal(t, "send-native", decoded["category"])
}

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	publisher := NewMockPublisher()

	require.NoError(t, publisher.PublishTransfer(ctx, &TransferEvent{Primary: "A", Signature: "1"}))
	require.NoError(t, publisher.PublishTransferBatch(ctx, []*TransferEvent{
		{Primary: "B", Signature: "2"},
		{Primary: "A", Signature: "3"},
	}))

	assert.Len(t, publisher.GetPublishedEvents(), 3)
	assert.Len(t, publisher.GetPublishedEventsForPrimary("A"), 2)

	publisher.SetPublishError(errors.New("nats: timeout"))
	assert.Error(t, publisher.PublishTransfer(ctx, &TransferEvent{Primary: "A"}))
	assert.Len(t, publisher.GetPublishedEvents(), 3)

	require.NoError(t, publisher.Close())
	assert.True(t, publisher.IsClosed())
}

func TestFilterSubject(t *testing.T) {
	assert.Equal(t, "transfers.*", FilterSubject(""))
	assert.Equal(t, "transfers.abc", FilterSubject("abc"))
}

func TestDecodeTransferEvent(t *testing.T) {
	decimals := uint8(6)
	data, err := json.Marshal(&TransferEvent{
		Signature: "5sig",
		Primary:   "wallet",
		Category:  "receive-token",
		Amount:    2_500_000,
		Mint:      "mint",
		Decimals:  &decimals,
		UIAmount:  "2.500000",
	})
	require.NoError(t, err)

	event, err := DecodeTransferEvent(data)
	require.NoError(t, err)
	assert.Equal(t, "5sig", event.Signature)
	assert.Equal(t, uint64(2_500_000), event.Amount)
	require.NotNil(t, event.Decimals)
	assert.Equal(t, uint8(6), *event.Decimals)

	_, err = DecodeTransferEvent([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodeTransferEvent([]byte(`{"category":"send-native"}`))
	assert.ErrorContains(t, err, "missing signature")
}
