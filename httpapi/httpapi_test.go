package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestHealthzReportsOK(t *testing.T) {
	c := qt.New(t)
	s := New(nil)

	req, err := http.NewRequest(http.MethodGet, "/healthz", nil)
	c.Assert(err, qt.IsNil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	c.Assert(rr.Code, qt.Equals, http.StatusOK)
	c.Assert(rr.Body.String(), qt.Equals, "ok")
}

func TestStatusListsConfiguredTargets(t *testing.T) {
	c := qt.New(t)
	targets := []TargetStatus{
		{Chain: "polygon", Network: "testnet", Signer: "0x742d35Cc6634C0532925a3b844Bc454e4438fAEd", DLQBackend: "memory"},
	}
	s := New(targets)

	req, err := http.NewRequest(http.MethodGet, "/status", nil)
	c.Assert(err, qt.IsNil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	c.Assert(rr.Code, qt.Equals, http.StatusOK)
	var got []TargetStatus
	c.Assert(json.Unmarshal(rr.Body.Bytes(), &got), qt.IsNil)
	c.Assert(got, qt.DeepEquals, targets)
}
