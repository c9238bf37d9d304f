package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/listing"
	"staybook/internal/models"
	"staybook/internal/payment"
	"staybook/internal/repository"
	"staybook/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	ts      *httptest.Server
	db      *database.DB
	gateway *payment.FakeGateway
}

func newTestAPI(t *testing.T, cfg config.APIConfig) *testAPI {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gateway := payment.NewFakeGateway(time.Now)
	svc := service.NewBookingService(
		db,
		repository.NewMemoryAvailabilityCache(time.Minute),
		listing.NewStaticDirectory([]models.Listing{{PropertyID: "42", OwnerID: "host", NightlyRate: 10000, Currency: "EUR"}}),
		gateway,
		nil,
		service.Options{Sleep: func(context.Context, time.Duration) error { return nil }},
		&logger,
	)

	checks := map[string]HealthCheck{"ledger": db.Ping}
	srv := NewHTTPServer(cfg, svc, gateway, checks, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testAPI{ts: ts, db: db, gateway: gateway}
}

func (a *testAPI) do(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, a.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func guest(id string) map[string]string {
	return map[string]string{headerGuestID: id}
}

type bookingBody struct {
	Reservation    models.Reservation `json:"reservation"`
	Replayed       bool               `json:"replayed"`
	PaymentPending bool               `json:"payment_pending"`
	ClientSecret   string             `json:"client_secret"`
}

const stay = `{"property_id":"42","check_in":"2025-07-01","check_out":"2025-07-05"}`

func TestCreateBooking_StatusCodes(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})
	headers := map[string]string{headerGuestID: "guest-a", headerIdempotencyKey: "k-1"}

	resp, raw := api.do(t, http.MethodPost, "/", stay, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, raw)
	}
	var created bookingBody
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if created.Reservation.Status != models.StatusPendingPayment {
		t.Fatalf("expected pending status, got %s", created.Reservation.Status)
	}
	if created.ClientSecret == "" {
		t.Fatalf("expected client secret")
	}
	if loc := resp.Header.Get("Location"); loc != "/"+created.Reservation.ID {
		t.Fatalf("unexpected Location %q", loc)
	}

	resp, raw = api.do(t, http.MethodPost, "/", stay, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d: %s", resp.StatusCode, raw)
	}
	var replayed bookingBody
	_ = json.Unmarshal(raw, &replayed)
	if !replayed.Replayed || replayed.Reservation.ID != created.Reservation.ID {
		t.Fatalf("expected replay of %s, got %+v", created.Reservation.ID, replayed)
	}

	mismatch := `{"property_id":"42","check_in":"2025-08-01","check_out":"2025-08-03"}`
	resp, _ = api.do(t, http.MethodPost, "/", mismatch, headers)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	overlap := `{"property_id":"42","check_in":"2025-07-04","check_out":"2025-07-06"}`
	resp, raw = api.do(t, http.MethodPost, "/", overlap, guest("guest-b"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	var e errorBody
	_ = json.Unmarshal(raw, &e)
	if e.Code != "unavailable" {
		t.Fatalf("expected unavailable code, got %q", e.Code)
	}
}

func TestCreateBooking_Errors(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})

	cases := []struct {
		name    string
		body    string
		headers map[string]string
		status  int
		field   string
	}{
		{"InvalidJSON", `{`, guest("g"), http.StatusBadRequest, "body"},
		{"UnknownField", `{"property_id":"42","nights":3}`, guest("g"), http.StatusBadRequest, "body"},
		{"BadDate", `{"property_id":"42","check_in":"07/01/2025","check_out":"2025-07-05"}`, guest("g"), http.StatusBadRequest, "check_in"},
		{"NoGuest", stay, nil, http.StatusBadRequest, "guest_id"},
		{"OwnerBooks", stay, guest("host"), http.StatusBadRequest, "guest_id"},
		{"TooLong", `{"property_id":"42","check_in":"2025-07-01","check_out":"2025-09-01"}`, guest("g"), http.StatusBadRequest, "range"},
		{"UnknownProperty", `{"property_id":"9","check_in":"2025-07-01","check_out":"2025-07-05"}`, guest("g"), http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, raw := api.do(t, http.MethodPost, "/", tc.body, tc.headers)
			assert.Equal(t, tc.status, resp.StatusCode, string(raw))
			var e errorBody
			require.NoError(t, json.Unmarshal(raw, &e))
			assert.Equal(t, tc.field, e.Field)
			assert.NotEmpty(t, e.Code)
		})
	}
}

func TestCreateBooking_PaymentPending(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})
	api.gateway.Fail = errors.New("provider down")

	resp, raw := api.do(t, http.MethodPost, "/", stay, guest("guest-a"))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, raw)
	}
	var body bookingBody
	_ = json.Unmarshal(raw, &body)
	if !body.PaymentPending {
		t.Fatalf("expected payment_pending")
	}
}

func TestAvailabilityEndpoint(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})

	var avail models.Availability
	resp, raw := api.do(t, http.MethodPost, "/availability", stay, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	require.NoError(t, json.Unmarshal(raw, &avail))
	assert.True(t, avail.Available)
	assert.False(t, avail.Cached)

	resp, raw = api.do(t, http.MethodPost, "/availability", stay, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &avail))
	assert.True(t, avail.Cached)

	resp, _ = api.do(t, http.MethodPost, "/", stay, guest("guest-a"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, raw = api.do(t, http.MethodPost, "/availability", stay, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &avail))
	assert.False(t, avail.Available)

	resp, _ = api.do(t, http.MethodPost, "/availability", `{"property_id":"42","check_in":"2025-07-05","check_out":"2025-07-05"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetAndCancel(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})

	_, raw := api.do(t, http.MethodPost, "/", stay, guest("guest-a"))
	var created bookingBody
	require.NoError(t, json.Unmarshal(raw, &created))
	path := "/" + created.Reservation.ID

	resp, _ := api.do(t, http.MethodGet, path, "", guest("guest-a"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = api.do(t, http.MethodGet, path, "", guest("guest-b"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = api.do(t, http.MethodGet, path, "", map[string]string{headerRole: roleAdmin})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = api.do(t, http.MethodGet, "/nope", "", guest("guest-a"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = api.do(t, http.MethodDelete, path, "", guest("guest-b"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw = api.do(t, http.MethodDelete, path, "", guest("guest-a"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var cancelled models.Reservation
	require.NoError(t, json.Unmarshal(raw, &cancelled))
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	resp, _ = api.do(t, http.MethodDelete, path, "", guest("guest-a"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPaymentWebhook(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})

	_, raw := api.do(t, http.MethodPost, "/", stay, guest("guest-a"))
	var created bookingBody
	require.NoError(t, json.Unmarshal(raw, &created))
	id := created.Reservation.ID

	hook := `{"type":"payment_intent.succeeded","reservation_id":"` + id + `"}`
	resp, raw := api.do(t, http.MethodPost, "/payments/webhook", hook, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	stored, err := api.db.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, stored.Status)

	resp, _ = api.do(t, http.MethodPost, "/payments/webhook", hook, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "redelivery is acknowledged")

	resp, _ = api.do(t, http.MethodPost, "/payments/webhook", `{"type":"payment_intent.created"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = api.do(t, http.MethodPost, "/payments/webhook", `garbage`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})

	resp, raw := api.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"ledger":"ok"`)

	require.NoError(t, api.db.Close())
	resp, _ = api.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthzDegraded(t *testing.T) {
	logger := zerolog.Nop()
	checks := map[string]HealthCheck{
		"ledger": func(context.Context) error { return nil },
		"cache":  Optional(func(context.Context) error { return errors.New("redis: connection refused") }),
	}
	srv := NewHTTPServer(config.APIConfig{}, nil, nil, checks, &logger)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Components["ledger"])
	assert.Contains(t, body.Components["cache"], "connection refused")
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&models.ValidationError{Field: "check_in"}, http.StatusBadRequest},
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrForbidden, http.StatusForbidden},
		{models.ErrIdempotencyMismatch, http.StatusUnprocessableEntity},
		{models.ErrUnavailable, http.StatusConflict},
		{&models.TransitionError{ID: "x"}, http.StatusConflict},
		{models.ErrUpstream, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got, _ := statusFor(tc.err)
		assert.Equal(t, tc.status, got, tc.err.Error())
	}
}
