package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekeeper/internal/auth"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrNotFound:         http.StatusNotFound,
		domain.ErrUnauthorized:     http.StatusForbidden,
		domain.ErrInvalidAmount:    http.StatusBadRequest,
		domain.ErrInvalidCondition: http.StatusBadRequest,
		domain.ErrInvalidPrice:     http.StatusBadRequest,
		domain.ErrOrderExpired:     http.StatusConflict,
		domain.ErrSlippageExceeded: http.StatusConflict,
		domain.ErrPriceStale:       http.StatusServiceUnavailable,
		domain.ErrFeedNotFound:     http.StatusServiceUnavailable,
		domain.ErrNotInitialized:   http.StatusServiceUnavailable,
		domain.ErrRateLimited:      http.StatusTooManyRequests,
		auth.ErrBadLogin:           http.StatusUnauthorized,
		errors.New("db down"):      http.StatusInternalServerError,
	}
	for err, want := range cases {
		wrapped := fmt.Errorf("service: execute order 7: %w", err)
		assert.Equal(t, want, statusFor(wrapped), err.Error())
	}
}

func TestDecodeJSONValidates(t *testing.T) {
	var req triggerRequest
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"owner":"0x12","observed_price":"1"}`))
	err := decodeJSON(httptest.NewRecorder(), r, &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Owner failed eth_addr")

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	err = decodeJSON(httptest.NewRecorder(), r, &req)
	assert.EqualError(t, err, "request body is empty")
}

func TestCreateOrderDurationBounded(t *testing.T) {
	body := `{"token_in":"USDC","token_out":"APT","amount_in":20,"condition_type":"BELOW","target_price":"7","duration_seconds":%d}`

	var req createOrderRequest
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(fmt.Sprintf(body, 3600)))
	require.NoError(t, decodeJSON(httptest.NewRecorder(), r, &req))
	assert.Equal(t, int64(3600), req.DurationSeconds)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(fmt.Sprintf(body, int64(9_300_000_000_000))))
	err := decodeJSON(httptest.NewRecorder(), r, &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DurationSeconds failed lte")
}

func TestPageParams(t *testing.T) {
	limit, offset := pageParams(httptest.NewRequest(http.MethodGet, "/?limit=9000&offset=-3", nil))
	assert.Equal(t, 500, limit)
	assert.Equal(t, 0, offset)

	limit, offset = pageParams(httptest.NewRequest(http.MethodGet, "/?limit=10&offset=20", nil))
	assert.Equal(t, 10, limit)
	assert.Equal(t, 20, offset)
}
