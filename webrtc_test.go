package realtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeSDP(t *testing.T) {
	var gotAuth, gotBeta, gotType, gotModel, gotOffer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBeta = r.Header.Get("OpenAI-Beta")
		gotType = r.Header.Get("Content-Type")
		gotModel = r.URL.Query().Get("model")
		body, _ := io.ReadAll(r.Body)
		gotOffer = string(body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("v=0\r\nanswer"))
	}))
	defer srv.Close()

	d := &WebRTCDialer{Logger: shared.NewNopLogger(), URL: srv.URL, Model: "gpt-4o-realtime-preview-2024-12-17", Beta: true}
	answer, err := d.exchangeSDP(context.Background(), "v=0\r\noffer", "ek_123")
	require.NoError(t, err)

	assert.Equal(t, "v=0\r\nanswer", answer)
	assert.Equal(t, "v=0\r\noffer", gotOffer)
	assert.Equal(t, "Bearer ek_123", gotAuth)
	assert.Equal(t, "realtime=v1", gotBeta)
	assert.Equal(t, "application/sdp", gotType)
	assert.Equal(t, "gpt-4o-realtime-preview-2024-12-17", gotModel)
}

func TestExchangeSDPErrors(t *testing.T) {
	tests := []struct {
		status  int
		wantErr error
	}{
		{status: http.StatusUnauthorized, wantErr: shared.ErrUnauthorized},
		{status: http.StatusForbidden, wantErr: shared.ErrForbidden},
		{status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("bad offer"))
			}))
			defer srv.Close()

			d := &WebRTCDialer{Logger: shared.NewNopLogger(), URL: srv.URL}
			_, err := d.exchangeSDP(context.Background(), "offer", "ek")

			var cerr *ConnectionError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, "sdp exchange", cerr.Stage)
			assert.Equal(t, tt.status, cerr.StatusCode)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestWebRTCDialRequiresCredential(t *testing.T) {
	d := &WebRTCDialer{Logger: shared.NewNopLogger(), URL: "http://localhost:1"}
	_, err := d.Dial(context.Background(), "", nil)
	assert.ErrorIs(t, err, shared.ErrNoCredential)
	assert.Equal(t, TransportWebRTC, d.Kind())
}
