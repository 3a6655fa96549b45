package tests

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echoapi "github.com/lcardenasp7/conta/apps/api/echo"
	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/testutil"
)

var (
	clerk = core.Actor{ID: "2", Username: "clerk", Email: "clerk@school.test"}

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errInvalidToken = httpErr{Error: "invalid or expired jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
	errObjNotFound  = httpErr{Error: "not found"}
	errFundNotFound = httpErr{Error: "fund not found"}
)

// testServer is the API served over a fresh database, with an admin (bursar)
// token and a plain user token.
type testServer struct {
	*testutil.App
	server     *echoapi.Server
	adminToken string
	userToken  string
}

func setup(t *testing.T) *testServer {
	app := testutil.NewApp(t)
	server := echoapi.NewServer(app.Conf, app.Log, &echoapi.Deps{
		FundSvc:     app.Funds,
		TransferSvc: app.Transfer,
		LoanSvc:     app.Loans,
		AlertSvc:    app.Alerts,
		CaptureSvc:  app.Captures,
	})
	return &testServer{
		App:        app,
		server:     server,
		adminToken: getToken(t, app.Conf, testutil.Admin, true),
		userToken:  getToken(t, app.Conf, clerk, false),
	}
}

func (ts *testServer) do(tt httpTest) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
	ts.server.ServeHTTP(rec, req)
	return rec
}

func TestHome(t *testing.T) {
	ts := setup(t)

	req, rec := newRequest(http.MethodGet, "/")
	ts.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, http.StatusOK)
	}
	if want := "Welcome to " + ts.Conf.AppName + " API!"; rec.Body.String() != want {
		t.Errorf("failed! body = %q; want %q", rec.Body.String(), want)
	}
}

func TestAuth(t *testing.T) {
	ts := setup(t)

	tests := []httpTest{
		{
			name:     "me without token",
			method:   http.MethodGet,
			path:     "/v1/auth/me",
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "me with bad token",
			method:   http.MethodGet,
			path:     "/v1/auth/me",
			token:    "not.a.token",
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errInvalidToken),
		},
		{
			name:     "me as clerk",
			method:   http.MethodGet,
			path:     "/v1/auth/me",
			token:    ts.userToken,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.MeResponse{Actor: clerk}),
		},
		{
			name:     "me as admin",
			method:   http.MethodGet,
			path:     "/v1/auth/me",
			token:    ts.adminToken,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.MeResponse{Actor: testutil.Admin, IsAdmin: true}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, ts.do(tt))
		})
	}

	t.Run("token refresh", func(t *testing.T) {
		rec := ts.do(httpTest{method: http.MethodPost, path: "/v1/auth/token-refresh", token: ts.adminToken})
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; wantCode %v", rec.Code, http.StatusOK)
		}
		var resp echoapi.TokenResponse
		decodeBody(t, rec, &resp)

		tt := httpTest{
			method:   http.MethodGet,
			path:     "/v1/auth/me",
			token:    resp.Token,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.MeResponse{Actor: testutil.Admin, IsAdmin: true}),
		}
		checkCodeAndData(t, tt, ts.do(tt))
	})

	t.Run("token refresh expired", func(t *testing.T) {
		claims := echoapi.NewClaims(ts.Conf, clerk, false, 1 /* origIat: 1970 */)
		token, err := echoapi.GenerateToken(ts.Conf, claims)
		if err != nil {
			t.Fatal(err)
		}
		tt := httpTest{
			method:   http.MethodPost,
			path:     "/v1/auth/token-refresh",
			token:    token,
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "refresh has expired"}),
		}
		checkCodeAndData(t, tt, ts.do(tt))
	})
}
