package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DARPAI/portal-backend/internal/apperr"
	"github.com/DARPAI/portal-backend/internal/message"
)

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"name":"alice"}`},
		{name: "unknown field", body: `{"name":"alice","extra":1}`, wantErr: true},
		{name: "empty body", body: "", wantErr: true},
		{name: "malformed", body: `{"name":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(tt.body))

			var dst createUserRequest
			err := decodeJSON(w, r, &dst)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "alice", dst.Name)
		})
	}
}

func TestCurrentUserID(t *testing.T) {
	want := uuid.New()

	r := httptest.NewRequest(http.MethodGet, "/chats?current_user_id="+want.String(), nil)
	got, err := currentUserID(r)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	r = httptest.NewRequest(http.MethodGet, "/chats", nil)
	_, err = currentUserID(r)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	r = httptest.NewRequest(http.MethodGet, "/chats?current_user_id=nope", nil)
	_, err = currentUserID(r)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/messages?limit=5", nil)

	got, err := queryInt(r, "limit", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	got, err = queryInt(r, "offset", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, got, "missing parameter falls back to default")

	r = httptest.NewRequest(http.MethodGet, "/messages?limit=-1", nil)
	_, err = queryInt(r, "limit", 0)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

type nopFlusher struct{}

func (nopFlusher) Flush() {}

func TestWriteSSEEventFraming(t *testing.T) {
	var sb strings.Builder
	err := writeSSEEvent(&sb, nopFlusher{}, message.Event{
		Type: message.EventTextChunk,
		Data: message.TextChunkData{Content: "hi"},
	})
	require.NoError(t, err)

	got := sb.String()
	assert.True(t, strings.HasPrefix(got, "event: text_chunk\ndata: "), "got %q", got)
	assert.True(t, strings.HasSuffix(got, "\n\n"), "got %q", got)
	assert.Contains(t, got, `"event_type":"text_chunk"`)
	assert.Contains(t, got, `"content":"hi"`)
}
