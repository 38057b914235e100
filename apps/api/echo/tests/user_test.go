package tests

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/nithadya/classsync/apps/api/echo"
	"github.com/nithadya/classsync/core/user"
	testutil "github.com/nithadya/classsync/tests"
)

func Test_userApi_login(t *testing.T) {
	e := setup(t, nil)
	testutil.CreateUser(t, e.usrRepo, "Lina", "lina", "lina@test.cd", "s3cret-pass", []string{user.RoleLearner}, true)
	testutil.CreateUser(t, e.usrRepo, "N Dog", "ndog", "ndog@test.cd", "s3cret-pass", []string{user.RoleLearner}, false)

	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": "this field is required", "password": "this field is required"}),
		},
		{
			name: "unknown user", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.LoginRequest{Username: "nobody", Password: "s3cret-pass"}),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.LoginRequest{Username: "lina", Password: "lol"}),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated", wantCode: http.StatusForbidden,
			body:     marchallObj(t, echoapi.LoginRequest{Username: "ndog@test.cd", Password: "s3cret-pass"}),
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "by username", wantCode: http.StatusOK, body: marchallObj(t, echoapi.LoginRequest{Username: " LINA ", Password: "s3cret-pass"})},
		{name: "by email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.LoginRequest{Username: "lina@test.cd", Password: "s3cret-pass"})},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/login"

		t.Run(tt.name, func(t *testing.T) {
			rec := e.run(t, tt)
			if tt.wantCode == http.StatusOK {
				var resp echoapi.LoginResponse
				unmarshal(t, rec, &resp)
				assert.NotEmpty(t, resp.Token)
			}
		})
	}

	usr, err := e.usrRepo.GetUser(context.Background(), user.GetFilter{Username: "lina"})
	require.NoError(t, err)
	assert.False(t, usr.LastLogin.IsZero())
}

func Test_userApi_refreshToken(t *testing.T) {
	e := setup(t, nil)
	naughty := testutil.CreateUser(t, e.usrRepo, "N Dog", "ndog", "ndog@test.cd", "", []string{user.RoleLearner}, false)
	learner := e.createUser(t, "Lina", "lina", user.RoleLearner)

	now := time.Now()
	unrefreshableClaims := &echoapi.Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    e.conf.AppName,
			Subject:   learner.ID,
			ExpiresAt: now.Add(e.conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		OrigIssuedAt: now.Add(-2 * e.conf.Server.JWTRefreshExpirationDelta).Unix(), // older than threshold
		IsLearner:    true,
		Roles:        learner.Roles,
	}
	unrefreshableToken, err := echoapi.GenerateToken(e.conf, unrefreshableClaims)
	require.NoError(t, err)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Inactive user not allowed", token: e.getToken(t, naughty), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"})},
		{name: "Token refreshed", token: e.getToken(t, learner), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/token-refresh"

		t.Run(tt.name, func(t *testing.T) {
			rec := e.run(t, tt)
			// cannot guess new token.. just check that it's not empty
			if tt.wantCode == http.StatusOK {
				var resp echoapi.LoginResponse
				unmarshal(t, rec, &resp)
				assert.NotEmpty(t, resp.Token)
			}
		})
	}
}

func Test_userApi_query(t *testing.T) {
	e := setup(t, nil)
	now := time.Now()
	admin := testutil.CreateUser(t, e.usrRepo, "Ada Admin", "ada", "ada@test.cd", "", []string{user.RoleAdmin}, true, now)
	carl := testutil.CreateUser(t, e.usrRepo, "Carl", "carl", "carl@test.cd", "", []string{user.RoleContributor}, true, now.Add(time.Hour))
	lina := testutil.CreateUser(t, e.usrRepo, "Lina", "lina", "lina@test.cd", "", []string{user.RoleLearner}, true, now.Add(2*time.Hour))
	adminToken := e.getToken(t, admin)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/v1/users", token: e.getToken(t, carl), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Get all", path: "/v1/users", token: adminToken, wantData: marchallList(t, admin, carl, lina)},
		{name: "search", path: "/v1/users?search=LIN", token: adminToken, wantData: marchallList(t, lina)},
		{name: "role", path: "/v1/users?role=" + user.RoleContributor, token: adminToken, wantData: marchallList(t, carl)},
		{name: "order by -name", path: "/v1/users?ordering=-name", token: adminToken, wantData: marchallList(t, lina, carl, admin)},
		{name: "roles", path: "/v1/users/roles", token: adminToken, wantData: marchallObj(t, user.Roles)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}
		t.Run(tt.name, func(t *testing.T) {
			e.run(t, tt)
		})
	}
}

func Test_userApi_retrieve(t *testing.T) {
	e := setup(t, nil)
	admin := e.createUser(t, "Ada Admin", "ada", user.RoleAdmin)
	lina := e.createUser(t, "Lina", "lina", user.RoleLearner)
	omar := e.createUser(t, "Omar", "omar", user.RoleLearner)

	tests := []httpTest{
		{name: "self", path: "/v1/users/" + lina.ID, token: e.getToken(t, lina), wantCode: http.StatusOK, wantData: marchallObj(t, lina)},
		{name: "other learner", path: "/v1/users/" + omar.ID, token: e.getToken(t, lina), wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})},
		{name: "admin", path: "/v1/users/" + omar.ID, token: e.getToken(t, admin), wantCode: http.StatusOK, wantData: marchallObj(t, omar)},
		{name: "unknown", path: "/v1/users/lol", token: e.getToken(t, admin), wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		t.Run(tt.name, func(t *testing.T) {
			e.run(t, tt)
		})
	}
}

func Test_userApi_register(t *testing.T) {
	e := setup(t, nil)
	admin := e.createUser(t, "Ada Admin", "ada", user.RoleAdmin)
	carl := e.createUser(t, "Carl", "carl", user.RoleContributor)

	newUser := user.NewUser{
		Name:            "Lina Kabila",
		Username:        "lina",
		Email:           "lina@test.cd",
		Password:        "Kinshasa-2024!",
		PasswordConfirm: "Kinshasa-2024!",
	}
	tests := []httpTest{
		{name: "Admin required", token: e.getToken(t, carl), body: marchallObj(t, newUser), wantCode: http.StatusForbidden},
		{name: "created", token: e.getToken(t, admin), body: marchallObj(t, newUser), wantCode: http.StatusCreated},
		{
			name: "username taken", token: e.getToken(t, admin), body: marchallObj(t, newUser), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": user.ErrUsernameExists.Error()}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/register"
		t.Run(tt.name, func(t *testing.T) {
			rec := e.run(t, tt)
			if tt.wantCode == http.StatusCreated {
				var usr user.User
				unmarshal(t, rec, &usr)
				assert.Equal(t, "lina", usr.Username)
				assert.Equal(t, []string{user.RoleLearner}, usr.Roles)
			}
		})
	}
}

func Test_userApi_me(t *testing.T) {
	e := setup(t, nil)
	admin := e.createUser(t, "Ada Admin", "ada", user.RoleAdmin)
	carl := e.createUser(t, "Carl", "carl", user.RoleContributor)
	lina := e.createUser(t, "Lina", "lina", user.RoleLearner)
	goneToken := e.getToken(t, user.User{ID: "gone", Username: "gone", Roles: []string{user.RoleLearner}})

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "deleted account", token: goneToken, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "user not authenticated"})},
		{
			name: "learner", token: e.getToken(t, lina), wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.Profile{User: lina, Capabilities: []user.Capability{}}),
		},
		{
			name: "contributor", token: e.getToken(t, carl), wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.Profile{User: carl, Capabilities: []user.Capability{user.CapReviewSubmissions, user.CapAwardPoints}}),
		},
		{
			name: "admin", token: e.getToken(t, admin), wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.Profile{User: admin, Capabilities: user.Principal{Roles: admin.Roles}.Capabilities()}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		tt.path = "/v1/users/me"
		t.Run(tt.name, func(t *testing.T) {
			e.run(t, tt)
		})
	}
}
