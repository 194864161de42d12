package app

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectKafka_WithoutBrokers(t *testing.T) {
	logger, hook := test.NewNullLogger()

	for _, brokers := range []string{"", " , "} {
		cfg := DefaultConfig()
		cfg.KafkaBrokers = brokers

		rt, err := connectKafka(cfg, logger.WithField("component", "app"))
		require.NoError(t, err)
		assert.Nil(t, rt.producer)
		assert.Equal(t, "kafka brokers not configured, storefront events arrive by webhook only", hook.LastEntry().Message)

		require.NoError(t, rt.subscribeStorefront(context.Background(), cfg, nil))
		assert.Nil(t, rt.consumer, "no producer means no storefront subscription")
	}
}

func TestConnectKafka_UnreachableBrokers(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := DefaultConfig()
	cfg.KafkaBrokers = "invalid-broker:9999, second-invalid:9999"

	rt, err := connectKafka(cfg, logger.WithField("component", "app"))
	require.ErrorContains(t, err, "connect kafka producer")
	require.NotNil(t, rt)
	assert.Nil(t, rt.producer)
	assert.NotPanics(t, rt.close)
}

func TestKafkaRuntime_CloseIsSafe(t *testing.T) {
	var nilRuntime *kafkaRuntime
	assert.NotPanics(t, nilRuntime.close)
	assert.NotPanics(t, nilRuntime.stopIngestion)

	logger, _ := test.NewNullLogger()
	rt := &kafkaRuntime{logger: logger.WithField("component", "kafka")}
	assert.NotPanics(t, rt.close)
	assert.NotPanics(t, rt.close)
}
