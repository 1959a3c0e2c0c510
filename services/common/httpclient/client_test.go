package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashrajoria/marketplace/services/common/apperrors"
)

func TestDoForwardsIdentityAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u-1", r.Header.Get("X-User-ID"))
		assert.Equal(t, "service", r.Header.Get("X-User-Role"))
		var in map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]int{"doubled": in["n"] * 2})
	}))
	defer srv.Close()

	var out map[string]int
	err := New(srv.URL, Identity{UserID: "u-1", Role: "service"}).Post(context.Background(), "/x", map[string]int{"n": 21}, &out)
	require.NoError(t, err)
	assert.Equal(t, 42, out["doubled"])
}

func TestDoMapsErrorResponses(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   apperrors.Kind
		code   string
	}{
		{http.StatusBadRequest, `{"error":"cart is empty","code":"EMPTY_CART"}`, apperrors.KindValidation, apperrors.CodeEmptyCart},
		{http.StatusConflict, `{"error":"nope","code":"ILLEGAL_TRANSITION"}`, apperrors.KindConflict, apperrors.CodeIllegalTransition},
		{http.StatusNotFound, `{"error":"missing"}`, apperrors.KindNotFound, apperrors.CodeUnavailable},
		{http.StatusBadGateway, `oops`, apperrors.KindTransient, apperrors.CodeUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		err := New(srv.URL, Identity{}).Get(context.Background(), "/", nil)
		srv.Close()

		assert.Equal(t, tc.kind, apperrors.KindOf(err), tc.body)
		assert.Equal(t, tc.code, apperrors.CodeOf(err), tc.body)
	}
}

func TestDoTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := New(srv.URL, Identity{}).Get(ctx, "/", nil)
	assert.Equal(t, apperrors.KindTimeout, apperrors.KindOf(err))
}

func TestDoUnreachableIsTransient(t *testing.T) {
	err := New("http://127.0.0.1:1", Identity{}).Get(context.Background(), "/", nil)
	assert.True(t, apperrors.IsTransient(err))
}

func TestDoWithHeadersAddsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cust-9", r.Header.Get("X-On-Behalf-Of"))
		assert.Equal(t, "svc", r.Header.Get("X-User-ID"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := New(srv.URL, Identity{UserID: "svc", Role: "service"}).
		DoWithHeaders(context.Background(), http.MethodPost, "/x", http.Header{"X-On-Behalf-Of": []string{"cust-9"}}, nil, nil)
	require.NoError(t, err)
}
