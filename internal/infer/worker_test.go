package infer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/foreman/internal/fault"
)

func TestGenerateUnknownModel(t *testing.T) {
	ep := NewWorkerEndpoint(nil)
	_, err := ep.Generate(context.Background(), "ghost", "hi", Options{})
	require.Error(t, err)
	assert.Equal(t, fault.KindTransport, fault.Classify(err))
}

func TestGenerateRunsCommand(t *testing.T) {
	ep := NewWorkerEndpoint(map[string][]string{
		"echo-model": {"echo", "-n"},
	})
	out, err := ep.Generate(context.Background(), "echo-model", "hello there", Options{})
	require.NoError(t, err)
	assert.Contains(t, out, "hello there")
}

func TestGenerateTimeout(t *testing.T) {
	ep := NewWorkerEndpoint(map[string][]string{
		"slow-model": {"sh", "-c", "exec sleep 5"},
	})
	_, err := ep.Generate(context.Background(), "slow-model", "x", Options{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, fault.KindTransport, fault.Classify(err))

	var te *fault.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout)
}

func TestParseWorkerOutput(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{"raw text", "plain answer", "plain answer", false},
		{"envelope content", `{"content": "wrapped answer"}`, "wrapped answer", false},
		{"envelope error", `{"error": "model overloaded"}`, "", true},
		{"json-looking output", `{"steps": []}`, `{"steps": []}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWorkerOutput(tt.output, "m")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
