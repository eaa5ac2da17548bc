package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denisok6893-rgb/open-house/internal/domain"
	"github.com/denisok6893-rgb/open-house/internal/house"
	"github.com/denisok6893-rgb/open-house/internal/remote"
	"github.com/denisok6893-rgb/open-house/internal/storage"
	"github.com/denisok6893-rgb/open-house/internal/syncer"
)

var seed = []domain.Criterion{
	{ID: 1, Name: "garage", Category: domain.CategoryExterior, Type: domain.TypeBinary},
	{ID: 2, Name: "quiet street", Category: domain.CategoryLocation, Type: domain.TypeTernary},
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureSchema())

	tokens, err := NewTokenIssuer("0123456789abcdef-test", time.Hour)
	require.NoError(t, err)

	ts := httptest.NewServer(NewServer(store, tokens, nil, seed, nil).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/register", domain.Credentials{Email: "ann@example.com", Password: "password1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var tok domain.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	assert.NotEmpty(t, tok.Token)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = postJSON(t, ts.URL+"/register", domain.Credentials{Email: "ann@example.com", Password: "password2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))

	resp = postJSON(t, ts.URL+"/register", domain.Credentials{Email: "ann", Password: "password1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/login", domain.Credentials{Email: "ann@example.com", Password: "password1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/login", domain.Credentials{Email: "ann@example.com", Password: "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var p problem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, "wrong email or password", p.Detail)
	assert.Equal(t, "/login", p.Instance)
}

func TestAuthenticatedRoutesNeedToken(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	for _, path := range []string{"/houses", "/criteria?hid=1", "/dreamhouse", "/score?hid=1", "/addCriterion", "/removeCriterion"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/houses", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCriteriaRoundTrip(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ctx := context.Background()

	ann := remote.NewClient(ts.URL)
	require.NoError(t, ann.Register(ctx, "ann@example.com", "password1"))

	dream, err := ann.DreamHouse(ctx)
	require.NoError(t, err)
	require.Len(t, dream, 2)
	assert.True(t, dream[0].IsDream)

	h, err := ann.CreateHouse(ctx, "Elm Street 4", "Springfield")
	require.NoError(t, err)
	require.NotZero(t, h.HID)

	houses, err := ann.Houses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.HouseSummary{h}, houses)

	items, err := ann.Criteria(ctx, h.HID)
	require.NoError(t, err)
	require.Len(t, items, 2, "new houses start from the dream house")

	// last write wins
	require.NoError(t, ann.UpdateCriterion(ctx, domain.UpdateCriterionRequest{HID: h.HID, ID: 2, Value: 1}))
	require.NoError(t, ann.UpdateCriterion(ctx, domain.UpdateCriterionRequest{HID: h.HID, ID: 2, Value: -1}))
	require.NoError(t, ann.UpdateCriterion(ctx, domain.UpdateCriterionRequest{HID: h.HID, ID: 2, Value: -1}))
	items, err = ann.Criteria(ctx, h.HID)
	require.NoError(t, err)
	for _, c := range items {
		if c.ID == 2 {
			assert.Equal(t, -1.0, c.Value)
		}
	}

	err = ann.UpdateCriterion(ctx, domain.UpdateCriterionRequest{HID: h.HID, ID: 1, Value: -1})
	var rerr *domain.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusBadRequest, rerr.Status)

	err = ann.UpdateCriterion(ctx, domain.UpdateCriterionRequest{HID: h.HID, ID: 99, Value: 1})
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusNotFound, rerr.Status)

	bob := remote.NewClient(ts.URL)
	require.NoError(t, bob.Register(ctx, "bob@example.com", "password2"))
	_, err = bob.Criteria(ctx, h.HID)
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusNotFound, rerr.Status, "other users' houses look missing")
	_, err = bob.Criteria(ctx, 12345)
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusNotFound, rerr.Status)
}

func TestScore(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ctx := context.Background()

	c := remote.NewClient(ts.URL)
	require.NoError(t, c.Register(ctx, "ann@example.com", "password1"))
	h, err := c.CreateHouse(ctx, "Elm Street 4", "")
	require.NoError(t, err)
	require.NoError(t, c.UpdateCriterion(ctx, domain.UpdateCriterionRequest{HID: h.HID, ID: 1, Value: 1}))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/score?hid="+strconv.FormatInt(h.HID, 10), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+c.Token())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out domain.ScoreResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	// exterior 1.0, location 0.5 (neutral ternary), other categories empty
	assert.Equal(t, 75.0, out.Rank)
	assert.Equal(t, 1.0, out.Ratios[domain.CategoryExterior])
	assert.Equal(t, 0.5, out.Ratios[domain.CategoryLocation])
}

func TestCoordinatorAgainstService(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ctx := context.Background()

	client := remote.NewClient(ts.URL)
	require.NoError(t, client.Register(ctx, "ann@example.com", "password1"))
	summary, err := client.CreateHouse(ctx, "Elm Street 4", "")
	require.NoError(t, err)
	require.NoError(t, client.UpdateCriterion(ctx, domain.UpdateCriterionRequest{HID: summary.HID, ID: 2, Value: 1}))

	dream, err := client.DreamHouse(ctx)
	require.NoError(t, err)
	tmpl := house.NewTemplate()
	require.NoError(t, tmpl.Replace(dream))

	coord := syncer.New(client, client, tmpl, nil)
	defer coord.Close()
	h := house.FromSummary(summary)
	coord.HousesAvailable(ctx, []*house.House{h})

	out := coord.SyncCriteriaWait(ctx, h)
	require.True(t, out.OK(), "sync: %v", out.Err)
	assert.False(t, out.Skipped)
	_, quiet, ok := h.Criteria.Find(2)
	require.True(t, ok)
	assert.Equal(t, 1.0, quiet.Value)

	ref, _, ok := h.Criteria.Find(1)
	require.True(t, ok)
	require.NoError(t, coord.UpdateValue(ctx, h, ref, 1))
	coord.Wait()

	items, err := client.Criteria(ctx, summary.HID)
	require.NoError(t, err)
	got := map[int64]float64{}
	for _, c := range items {
		got[c.ID] = c.Value
	}
	assert.Equal(t, map[int64]float64{1: 1, 2: 1}, got)
	assert.Equal(t, 100.0, h.Rank())
}

func TestUserCriteriaThroughCoordinator(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ctx := context.Background()

	client := remote.NewClient(ts.URL)
	require.NoError(t, client.Register(ctx, "ann@example.com", "password1"))
	summary, err := client.CreateHouse(ctx, "Elm Street 4", "")
	require.NoError(t, err)
	dream, err := client.DreamHouse(ctx)
	require.NoError(t, err)
	tmpl := house.NewTemplate()
	require.NoError(t, tmpl.Replace(dream))

	coord := syncer.New(client, client, tmpl, nil)
	defer coord.Close()
	h := house.FromSummary(summary)
	coord.HousesAvailable(ctx, []*house.House{h})

	cr, err := coord.Add(ctx, h, domain.CategoryInterior, domain.Criterion{Name: "big kitchen", Type: domain.TypeBinary})
	require.NoError(t, err)
	ref, _, ok := h.Criteria.Find(cr.ID)
	require.True(t, ok)
	require.NoError(t, coord.UpdateValue(ctx, h, ref, 1))
	coord.Wait()

	items, err := client.Criteria(ctx, summary.HID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, domain.Criterion{
		ID: domain.FirstUserCriterionID, Name: "big kitchen", Category: domain.CategoryInterior, Type: domain.TypeBinary, Value: 1,
	}, items[2])

	// a second device sees it after a sync
	other := house.FromSummary(summary)
	coord2 := syncer.New(client, client, tmpl, nil)
	defer coord2.Close()
	coord2.HousesAvailable(ctx, []*house.House{other})
	require.True(t, coord2.SyncCriteriaWait(ctx, other).OK())
	_, got, ok := other.Criteria.Find(cr.ID)
	require.True(t, ok)
	assert.Equal(t, 1.0, got.Value)

	require.NoError(t, coord.Remove(ctx, h, ref))
	coord.Wait()
	items, err = client.Criteria(ctx, summary.HID)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestAddAndRemoveCriterionValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ctx := context.Background()

	ann := remote.NewClient(ts.URL)
	require.NoError(t, ann.Register(ctx, "ann@example.com", "password1"))
	h, err := ann.CreateHouse(ctx, "Elm Street 4", "")
	require.NoError(t, err)

	kitchen := domain.Criterion{ID: domain.FirstUserCriterionID, Name: "big kitchen", Category: domain.CategoryInterior, Type: domain.TypeBinary}
	status := func(err error) int {
		var rerr *domain.RemoteError
		require.ErrorAs(t, err, &rerr)
		return rerr.Status
	}

	reserved := kitchen
	reserved.ID = 3
	assert.Equal(t, http.StatusBadRequest, status(ann.AddCriterion(ctx, domain.AddCriterionRequest{HID: h.HID, Criterion: reserved})))
	badValue := kitchen
	badValue.Value = 5
	assert.Equal(t, http.StatusBadRequest, status(ann.AddCriterion(ctx, domain.AddCriterionRequest{HID: h.HID, Criterion: badValue})))

	require.NoError(t, ann.AddCriterion(ctx, domain.AddCriterionRequest{HID: h.HID, Criterion: kitchen}))
	assert.Equal(t, http.StatusConflict, status(ann.AddCriterion(ctx, domain.AddCriterionRequest{HID: h.HID, Criterion: kitchen})))

	bob := remote.NewClient(ts.URL)
	require.NoError(t, bob.Register(ctx, "bob@example.com", "password2"))
	assert.Equal(t, http.StatusNotFound, status(bob.AddCriterion(ctx, domain.AddCriterionRequest{HID: h.HID, Criterion: kitchen})))
	assert.Equal(t, http.StatusNotFound, status(bob.RemoveCriterion(ctx, domain.RemoveCriterionRequest{HID: h.HID, ID: kitchen.ID})))

	assert.Equal(t, http.StatusBadRequest, status(ann.RemoveCriterion(ctx, domain.RemoveCriterionRequest{HID: h.HID, ID: 1})))
	require.NoError(t, ann.RemoveCriterion(ctx, domain.RemoveCriterionRequest{HID: h.HID, ID: kitchen.ID}))
	assert.Equal(t, http.StatusNotFound, status(ann.RemoveCriterion(ctx, domain.RemoveCriterionRequest{HID: h.HID, ID: kitchen.ID})))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	_ = postJSON(t, ts.URL+"/login", domain.Credentials{Email: "nobody@example.com", Password: "password1"})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `openhouse_api_requests_total{code="401",route="/login"} 1`), string(body))
}

func TestTokenIssuer(t *testing.T) {
	t.Parallel()

	_, err := NewTokenIssuer("short", time.Hour)
	require.Error(t, err)

	ti, err := NewTokenIssuer("0123456789abcdef-test", time.Hour)
	require.NoError(t, err)
	tok, err := ti.Issue(42, "ann@example.com")
	require.NoError(t, err)

	id, err := ti.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	exp, ok := remote.Expiry(tok)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	ti.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = ti.Verify(tok)
	require.Error(t, err, "expired")

	other, err := NewTokenIssuer("another-secret-0123456789", time.Hour)
	require.NoError(t, err)
	_, err = other.Verify(tok)
	require.Error(t, err, "wrong key")
}
