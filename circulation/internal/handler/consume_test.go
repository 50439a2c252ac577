package handler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openlib/circulation-service/circulation/internal/handler"
	"github.com/openlib/circulation-service/pkg/kafka"
)

func TestConsumer_SurvivesRebalance(t *testing.T) {
	t.Parallel()
	consumer := handler.NewConsumer(func(context.Context, kafka.CirculationEvent) error {
		return nil
	}, zap.NewNop())

	// a group rebalance runs Setup/Cleanup again on the same consumer
	require.NoError(t, consumer.Setup(nil))
	require.NoError(t, consumer.Cleanup(nil))
	require.NoError(t, consumer.Setup(nil))
	require.NoError(t, consumer.Cleanup(nil))
}
