package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/bursar/apps/api/echo"
	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/core/fee"
	"github.com/trezcool/bursar/core/principal"
	"github.com/trezcool/bursar/core/report"
	"github.com/trezcool/bursar/services/cache"
	"github.com/trezcool/bursar/services/email"
	"github.com/trezcool/bursar/services/events"
	"github.com/trezcool/bursar/services/logger"
	"github.com/trezcool/bursar/storage/database/inmem"
)

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}

	bursar  = principal.Principal{ID: "bursar-1", Username: "bursar", Roles: []string{principal.RoleAdminBursar}}
	teacher = principal.Principal{ID: "teacher-1", Username: "teacher", Roles: []string{principal.RoleTeacher}}
	student = principal.Principal{ID: "stu-1", Username: "hero", Roles: []string{principal.RoleStudent}}
	nobody  = principal.Principal{ID: "nobody"}
)

func studentPrincipal(id string) principal.Principal {
	return principal.Principal{ID: id, Roles: []string{principal.RoleStudent}}
}

type testEnv struct {
	conf       *core.Config
	app        *echoapi.Server
	db         *inmemdb.DB
	feeSvc     *fee.Service
	billingSvc *billing.Service
	events     *eventsvc.Recorder
	mail       *emailsvc.ConsoleService
	healthErr  error
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	billing.NowFunc = func() time.Time { return time.Date(2025, time.January, 15, 9, 30, 0, 0, time.UTC) }
	t.Cleanup(func() { billing.NowFunc = time.Now })

	conf := core.NewTestConfig()
	conf.Server.DisableReqLogs = true
	logger := logsvc.NewTestLogger()
	core.ParseEmailTemplates(conf, logger)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	fee.InitValidators(validate, translator)
	billing.InitValidators(validate, translator)

	db := inmemdb.Open()
	feeRepo := inmemdb.NewFeeRepository(db)
	cache := cachesvc.NewMemoryCache()
	env := &testEnv{
		conf:   conf,
		db:     db,
		feeSvc: fee.NewService(feeRepo, logger),
		events: eventsvc.NewRecorder(),
		mail:   emailsvc.NewConsoleServiceMock(conf, logger),
	}
	env.billingSvc = billing.NewService(
		inmemdb.NewBillingStore(db),
		feeRepo,
		inmemdb.NewRosterRepository(db),
		env.events,
		cache,
		env.mail,
		logger,
		billing.OptionsFromConfig(conf),
	)
	env.app = echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		FeeSvc:     env.feeSvc,
		BillingSvc: env.billingSvc,
		ReportSvc:  report.NewService(inmemdb.NewReportRepository(db), cache, conf.Redis.ReportTTL, logger),
		Validate:   validate,
		Translator: translator,
		Health:     func(context.Context) error { return env.healthErr },
	})
	return env
}

// tuition creates a recurring TUITION fee type & its structure for grade-1.
func (env *testEnv) tuition(t *testing.T, amount string) fee.FeeStructure {
	t.Helper()
	ctx := context.Background()
	ft, err := env.feeSvc.CreateFeeType(ctx, fee.NewFeeType{Name: "Tuition", Code: "TUITION", Category: fee.CategoryAcademic, IsRecurring: true})
	require.NoError(t, err)
	fs, err := env.feeSvc.CreateFeeStructure(ctx, fee.NewFeeStructure{
		ClassID:      "grade-1",
		FeeTypeID:    ft.ID,
		AcademicYear: "2024-25",
		Amount:       decimal.RequireFromString(amount),
		Frequency:    fee.FrequencyMonthly,
	})
	require.NoError(t, err)
	return fs
}

// assign assigns fs to the students & returns their StudentFee ids, in order.
func (env *testEnv) assign(t *testing.T, fs fee.FeeStructure, studentIDs ...string) []string {
	t.Helper()
	res, err := env.billingSvc.AssignToStudents(context.Background(), studentIDs, billing.Assignment{
		FeeStructureID: fs.ID,
		DueDate:        core.NewDate(2025, time.January, 31),
	})
	require.NoError(t, err)
	require.Equal(t, len(studentIDs), res.Assigned)

	ids := make([]string, len(res.Results))
	for i, r := range res.Results {
		ids[i] = r.StudentFeeID
	}
	return ids
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

func (env *testEnv) getToken(t *testing.T, p principal.Principal) string {
	t.Helper()
	token, err := echoapi.GenerateToken(env.conf, echoapi.NewClaims(env.conf, p))
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

// do serves the request & decodes a successful JSON response into dst (when not nil).
func (env *testEnv) do(t *testing.T, method, path, token string, body interface{}, wantCode int, dst interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	if body != nil {
		data = marshalObj(t, body)
	}
	req, rec := newAuthRequest(method, path, token, data)
	env.app.ServeHTTP(rec, req)
	require.Equalf(t, wantCode, rec.Code, "body: %s", rec.Body.String())
	if dst != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
	}
	return rec
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj(): %v", err)
	}
	return data
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
	assert.Equal(t, tt.wantCode, rec.Code, "code")
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if assert.NoError(t, err, "jsonBytesEqual()") {
		assert.Truef(t, ok, "data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func (env *testEnv) run(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		if tt.method == "" {
			tt.method = http.MethodGet
		}
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			env.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
