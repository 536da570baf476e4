package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tradefunnel/src/funnel"
	"tradefunnel/src/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalProvider_CandidatesAndScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sig-key", r.Header.Get("X-API-KEY"))
		switch r.URL.Path {
		case "/v1/candidates":
			_, _ = w.Write([]byte(`{"candidates":[
				{"symbol":"AAPL","side":"long","last_price":"190.5","volume":1200000,"atr":"2.1","catalyst_score":0.8,"pattern_confidence":0.6,"technical_score":0.7,"metadata":{"news":"earnings"}},
				{"symbol":"TSLA","side":"short","last_price":"240","volume":900000,"atr":"5","catalyst_score":0.5,"pattern_confidence":0.4,"technical_score":0.3}
			]}`))
		case "/v1/score":
			var req scoreRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, funnel.StagePattern, req.Stage)
			assert.Equal(t, "AAPL", req.Symbol)
			_, _ = w.Write([]byte(`{"score":0.42}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	p := NewSignalProvider(Config{SignalBaseURL: server.URL, SignalAPIKey: "sig-key"}, nil)

	cs, err := p.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "AAPL", cs[0].Symbol)
	assert.Equal(t, model.SideShort, cs[1].Side)
	assert.Equal(t, "earnings", cs[0].Metadata["news"])
	assert.Equal(t, "190.5", cs[0].LastPrice.String())

	score, err := p.Score(context.Background(), funnel.StagePattern, cs[0])
	require.NoError(t, err)
	assert.Equal(t, 0.42, score)
}

func TestSignalProvider_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	p := NewSignalProvider(Config{SignalBaseURL: server.URL}, nil)
	_, err := p.Candidates(context.Background())
	assert.ErrorContains(t, err, "HTTP 401")

	_, err = p.Score(context.Background(), funnel.StageCatalyst, model.Candidate{Symbol: "X"})
	assert.Error(t, err)
}

func TestSignalProvider_UndecodableBodies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		switch r.URL.Path {
		case "/v1/candidates":
			_, _ = w.Write([]byte(`<html>maintenance</html>`))
		case "/v1/score":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer server.Close()

	p := NewSignalProvider(Config{SignalBaseURL: server.URL}, nil)

	cs, err := p.Candidates(context.Background())
	assert.ErrorContains(t, err, "decode candidates")
	assert.Empty(t, cs)

	_, err = p.Score(context.Background(), funnel.StageTechnical, model.Candidate{Symbol: "AAPL"})
	assert.ErrorContains(t, err, "no score")
}

// SignalProvider is the funnel's external scorer.
var _ funnel.Scorer = (*SignalProvider)(nil)
