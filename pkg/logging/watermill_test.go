package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWatermillAdapter(t *testing.T) {
	prevLevel := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prevLevel) })

	var buf bytes.Buffer
	a := NewWatermill(zerolog.New(&buf))
	a.With(watermill.LogFields{"topic": "activities"}).Error("handler failed", errors.New("boom"), watermill.LogFields{"attempt": 2})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "error", line["level"])
	require.Equal(t, "watermill", line["component"])
	require.Equal(t, "activities", line["topic"])
	require.Equal(t, "boom", line["error"])
	require.Equal(t, float64(2), line["attempt"])
	require.Equal(t, "handler failed", line["message"])
}
