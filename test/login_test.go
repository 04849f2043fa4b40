//go:build integration_test || all_tests

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/2beens/adminauth/internal/cookies"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *IntegrationTestSuite) doLogin(ctx context.Context, t *testing.T, username, password string) *http.Response {
	t.Helper()

	loginReqJson, err := json.Marshal(loginRequest{
		Username: username,
		Password: password,
	})
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/login", serverEndpoint), bytes.NewBuffer(loginReqJson))
	require.NoError(t, err)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	return resp
}

func sessionCookieFrom(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == cookies.CookieName && c.Value != "" {
			return c
		}
	}
	t.Fatalf("no [%s] cookie in response", cookies.CookieName)
	return nil
}

func (s *IntegrationTestSuite) doWithCookie(ctx context.Context, t *testing.T, method, path string, cookie *http.Cookie) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, method, serverEndpoint+path, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "test-agent")
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}

	// the admin page redirects on auth failure, the status is what we check
	client := &http.Client{
		Timeout: s.httpClient.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return strings.TrimSpace(string(respBytes))
}

func (s *IntegrationTestSuite) TestLogin() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cases := map[string]struct {
		username           string
		password           string
		expectedStatusCode int
		expectedBody       string
	}{
		"good creds": {
			username:           testUsername,
			password:           testPassword,
			expectedStatusCode: http.StatusOK,
			expectedBody:       `{"success":true}`,
		},
		"bad password": {
			username:           testUsername,
			password:           "bad-password",
			expectedStatusCode: http.StatusUnauthorized,
			expectedBody:       `{"error":"invalid credentials"}`,
		},
		"unknown username": {
			username:           gofakeit.Username(),
			password:           testPassword,
			expectedStatusCode: http.StatusUnauthorized,
			expectedBody:       `{"error":"invalid credentials"}`,
		},
		"inactive account": {
			username:           testInactiveUsername,
			password:           testPassword,
			expectedStatusCode: http.StatusUnauthorized,
			expectedBody:       `{"error":"invalid credentials"}`,
		},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			resp := s.doLogin(ctx, t, tc.username, tc.password)
			require.Equal(t, tc.expectedStatusCode, resp.StatusCode)
			assert.JSONEq(t, tc.expectedBody, readBody(t, resp))
		})
	}
}

func (s *IntegrationTestSuite) TestLoginValidateLogout() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := s.doLogin(ctx, t, testUsername, testPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cookie := sessionCookieFrom(t, resp)
	readBody(t, resp)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)

	// the session is held in redis, under its own key
	keys, err := s.redisClient.Keys(ctx, "admin-session||*").Result()
	require.NoError(t, err)
	assert.NotEmpty(t, keys)

	resp = s.doWithCookie(ctx, t, "GET", "/api/admin/me", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me struct {
		Username  string    `json:"username"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &me))
	assert.Equal(t, testUsername, me.Username)
	assert.True(t, me.ExpiresAt.After(time.Now()))

	resp = s.doWithCookie(ctx, t, "GET", "/admin", cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), testUsername)

	resp = s.doWithCookie(ctx, t, "POST", "/logout", cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	readBody(t, resp)

	resp = s.doWithCookie(ctx, t, "GET", "/api/admin/me", cookie)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	readBody(t, resp)

	resp = s.doWithCookie(ctx, t, "GET", "/admin", cookie)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	readBody(t, resp)

	// logging out twice is fine
	resp = s.doWithCookie(ctx, t, "POST", "/logout", cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	readBody(t, resp)
}

func (s *IntegrationTestSuite) TestFormLogin() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	form := url.Values{}
	form.Set("username", testUsername)
	form.Set("password", testPassword)

	req, err := http.NewRequestWithContext(ctx, "POST", serverEndpoint+"/login", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cookie := sessionCookieFrom(t, resp)
	readBody(t, resp)

	resp = s.doWithCookie(ctx, t, "POST", "/logout", cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	readBody(t, resp)
}

func (s *IntegrationTestSuite) TestLogoutEverywhere() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sessionCookies []*http.Cookie
	for i := 0; i < 3; i++ {
		resp := s.doLogin(ctx, t, testUsername, testPassword)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		sessionCookies = append(sessionCookies, sessionCookieFrom(t, resp))
		readBody(t, resp)
	}

	resp := s.doWithCookie(ctx, t, "POST", "/logout/all", sessionCookies[0])
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var logoutAllResp struct {
		Success bool `json:"success"`
		Revoked int  `json:"revoked"`
	}
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &logoutAllResp))
	assert.True(t, logoutAllResp.Success)
	assert.GreaterOrEqual(t, logoutAllResp.Revoked, 3)

	for _, c := range sessionCookies {
		resp := s.doWithCookie(ctx, t, "GET", "/api/admin/me", c)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		readBody(t, resp)
	}
}

func (s *IntegrationTestSuite) TestLastLoginRecorded() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := s.doLogin(ctx, t, testUsername, testPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	readBody(t, resp)

	var lastLoginAt *time.Time
	require.NoError(t, s.DB.QueryRowContext(
		ctx,
		`SELECT last_login_at FROM admin_account WHERE username = $1`,
		testUsername,
	).Scan(&lastLoginAt))
	require.NotNil(t, lastLoginAt)
	assert.WithinDuration(t, time.Now(), *lastLoginAt, time.Minute)
}
