package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/sitesync/internal/entities"
)

type memoryLog struct {
	mu      sync.Mutex
	begun   []entities.TransportLogEntry
	entries []entities.TransportLogEntry
}

func (m *memoryLog) Begin(_ context.Context, e *entities.TransportLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uint(len(m.begun) + 1)
	m.begun = append(m.begun, *e)
	return nil
}

func (m *memoryLog) Finish(_ context.Context, e *entities.TransportLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func testSite(url string) *entities.RemoteSite {
	return &entities.RemoteSite{ID: 7, BaseURL: url, APIKey: "key-a", APISecret: "s3cret"}
}

func TestClient_SendSignsRequest(t *testing.T) {
	now := time.Now()
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "key-a", r.Header.Get(HeaderKey))
		assert.NotEmpty(t, r.Header.Get(HeaderRequestID))
		assert.NoError(t, Verify(r.Header.Get(HeaderTimestamp), body, r.Header.Get(HeaderSignature), "s3cret", now, DefaultSkew))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"applied","local_id":9}`))
	}))
	defer server.Close()

	logs := &memoryLog{}
	client := NewClient(logs, nil)

	resp, err := client.Send(context.Background(), testSite(server.URL+"/"), http.MethodPost, "booking", []byte(`{"id":42}`))
	require.NoError(t, err)
	assert.Equal(t, "/api/remote/v1/booking", gotPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded struct {
		Status  string `json:"status"`
		LocalID uint   `json:"local_id"`
	}
	require.NoError(t, resp.Decode(&decoded))
	assert.Equal(t, uint(9), decoded.LocalID)

	require.Len(t, logs.begun, 1)
	assert.Equal(t, entities.LogStatusPending, logs.begun[0].Status)
	assert.JSONEq(t, `{"id":42}`, string(logs.begun[0].Payload))
	require.Len(t, logs.entries, 1)
	assert.Equal(t, entities.LogStatusSuccess, logs.entries[0].Status)
	assert.Equal(t, http.StatusOK, logs.entries[0].HTTPStatus)
	assert.Equal(t, resp.RequestID, logs.entries[0].RequestID)
}

func TestClient_SendErrorStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantMsg   string
		permanent bool
	}{
		{"peer message", http.StatusUnprocessableEntity, `{"message":"date is required"}`, "date is required", true},
		{"generic fallback", http.StatusBadGateway, `<html>oops</html>`, "Bad Gateway", false},
		{"unauthorized", http.StatusUnauthorized, `{"message":"invalid request signature"}`, "invalid request signature", true},
		{"server error", http.StatusInternalServerError, ``, "Internal Server Error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			logs := &memoryLog{}
			_, err := NewClient(logs, nil).Send(context.Background(), testSite(server.URL), http.MethodPut, "booking", []byte(`{}`))

			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.status, te.StatusCode)
			assert.Equal(t, tt.wantMsg, te.Message)
			assert.Equal(t, tt.permanent, te.Permanent())
			assert.Equal(t, tt.permanent, IsPermanent(err))

			require.Len(t, logs.entries, 1)
			assert.Equal(t, entities.LogStatusError, logs.entries[0].Status)
			assert.Equal(t, tt.status, logs.entries[0].HTTPStatus)
		})
	}
}

func TestClient_SendTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	logs := &memoryLog{}
	client := NewClient(logs, nil, WithTimeout(50*time.Millisecond))

	_, err := client.Send(context.Background(), testSite(server.URL), http.MethodGet, "ping", nil)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
	assert.False(t, te.Permanent())
	require.Len(t, logs.begun, 1)
	require.Len(t, logs.entries, 1)
	assert.Equal(t, entities.LogStatusError, logs.entries[0].Status)
}

func TestClient_Endpoint(t *testing.T) {
	client := NewClient(nil, nil, WithPrefix("/custom/api/"))
	assert.Equal(t, "https://b.example.com/custom/api/availability/check",
		client.Endpoint(&entities.RemoteSite{BaseURL: "https://b.example.com/"}, "/availability/check"))
}
