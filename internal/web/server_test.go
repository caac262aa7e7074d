package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Baptiste-Yucca/gainorloss/internal/reconcile"
	"github.com/Baptiste-Yucca/gainorloss/internal/tracker"
)

type fakeProvider struct {
	report *tracker.Report
	err    error
}

func (f *fakeProvider) Track(_ context.Context, _ common.Address) (*tracker.Report, error) {
	return f.report, f.err
}

func serveReport(t *testing.T, provider reportProvider, path string) *httptest.ResponseRecorder {
	t.Helper()
	s := NewServer(":0", provider, zap.NewNop())
	r := chi.NewRouter()
	r.Get("/api/v1/report/{address}", s.handleReport)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandleReport(t *testing.T) {
	provider := &fakeProvider{report: &tracker.Report{
		Address: "0x1111111111111111111111111111111111111111",
		Tokens:  map[string]tracker.TokenReport{},
	}}

	rec := serveReport(t, provider, "/api/v1/report/0x1111111111111111111111111111111111111111")
	require.Equal(t, http.StatusOK, rec.Code)

	var got tracker.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "0x1111111111111111111111111111111111111111", got.Address)
}

func TestHandleReportRejectsBadAddress(t *testing.T) {
	rec := serveReport(t, &fakeProvider{}, "/api/v1/report/not-an-address")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReportTotalOutageIs503(t *testing.T) {
	provider := &fakeProvider{err: errors.Wrap(&reconcile.TotalFailureError{Tokens: []string{"USDC"}}, "data temporarily unavailable")}

	rec := serveReport(t, provider, "/api/v1/report/0x1111111111111111111111111111111111111111")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "temporarily unavailable")
}

func TestHandleReportOtherErrorIs500(t *testing.T) {
	provider := &fakeProvider{err: errors.New("boom")}

	rec := serveReport(t, provider, "/api/v1/report/0x1111111111111111111111111111111111111111")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
