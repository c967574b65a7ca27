package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h, err := NewHost(HostConfig{
		DataDir:         t.TempDir(),
		MaxStorageBytes: 1 << 30,
		PersistInterval: 0,
	})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRouterCreateAddGet(t *testing.T) {
	h := newTestHost(t)
	hub := NewSeriesHub()
	router := newRouter(h, hub)

	createBody, err := json.Marshal(createRequest{Key: "cpu"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/create", bytes.NewReader(createBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	addBody, err := json.Marshal(addRequest{Key: "cpu", TS: "1000", Val: 42.5})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/v1/add", bytes.NewReader(addBody))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/get?key=cpu", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, float64(1000), got["TS"])
	require.Equal(t, 42.5, got["Val"])
}

func TestRouterGetUnknownKeyNotFound(t *testing.T) {
	h := newTestHost(t)
	router := newRouter(h, NewSeriesHub())

	req := httptest.NewRequest(http.MethodGet, "/v1/get?key=missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouterCreateDuplicateKeyConflicts(t *testing.T) {
	h := newTestHost(t)
	router := newRouter(h, NewSeriesHub())

	body, err := json.Marshal(createRequest{Key: "cpu"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/create", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/create", bytes.NewReader(body))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestRouterAddUnknownKeyNotFound(t *testing.T) {
	h := newTestHost(t)
	router := newRouter(h, NewSeriesHub())

	body, err := json.Marshal(addRequest{Key: "missing", TS: "1000", Val: 1})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/add", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}
