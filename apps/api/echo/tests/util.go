package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/nithadya/classsync/apps/api/echo"
	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/moderation"
	"github.com/nithadya/classsync/core/points"
	"github.com/nithadya/classsync/core/user"
	inmemdb "github.com/nithadya/classsync/storage/database/inmem"
	testutil "github.com/nithadya/classsync/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

// env is a server over an in-memory database.
type env struct {
	conf      *core.Config
	app       *echoapi.Server
	usrRepo   user.Repository
	pointsSvc *points.Service
	modRepo   moderation.Repository
	hub       *points.Hub
	logger    *testutil.Logger
}

func setup(t *testing.T, classifier moderation.Classifier) env {
	t.Helper()

	db, err := inmemdb.Open()
	require.NoError(t, err)

	conf := core.NewTestConfig()
	validate, translator := testutil.NewValidator()
	e := env{
		conf:    conf,
		usrRepo: inmemdb.NewUserRepository(db),
		modRepo: inmemdb.NewModerationRepository(db),
		logger:  new(testutil.Logger),
	}
	e.hub = points.NewHub(conf.Points.NotifyBuffer, e.logger)

	usrSvc := user.NewService(e.usrRepo)
	modSvc := moderation.NewService(classifier, e.modRepo, e.logger)
	e.pointsSvc = points.NewService(inmemdb.NewPointsStore(db), usrSvc, e.hub, modSvc, e.logger, conf)

	e.app = echoapi.NewServer(echoapi.ServerDeps{
		Conf:          conf,
		Logger:        e.logger,
		UserSvc:       usrSvc,
		PointsSvc:     e.pointsSvc,
		ModerationSvc: modSvc,
		Hub:           e.hub,
		Validate:      validate,
		Translator:    translator,
	})
	return e
}

func (e env) createUser(t *testing.T, name, uname string, roles ...string) user.User {
	t.Helper()
	return testutil.CreateUser(t, e.usrRepo, name, uname, uname+"@test.cd", "", roles, true)
}

func (e env) getToken(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := echoapi.GenerateToken(e.conf, echoapi.GetUserClaims(e.conf, usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func (e env) run(t *testing.T, tt httpTest) *httptest.ResponseRecorder {
	t.Helper()
	req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
	e.app.ServeHTTP(rec, req)
	if tt.wantData != nil {
		checkCodeAndData(t, tt, rec)
	} else {
		assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
	}
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
