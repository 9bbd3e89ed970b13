package http

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/accountno"
)

type testClient struct {
	t   *testing.T
	app *fiber.App
}

func newTestApp(t *testing.T) *testClient {
	t.Helper()

	store, err := memory.NewStore()
	require.NoError(t, err)
	numbers, err := accountno.NewGenerator(2)
	require.NoError(t, err)

	app := NewApp(
		usecase.NewLedgerEngine(store, nil),
		usecase.NewAccountManager(store, numbers, nil),
		nil,
	)
	return &testClient{t: t, app: app}
}

// do 送出請求並解析 JSON 回應
func (tc *testClient) do(method, path, body string, headers map[string]string) (int, map[string]any) {
	tc.t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.app.Test(req, -1)
	require.NoError(tc.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	require.NoError(tc.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func user(id int64) map[string]string {
	return map[string]string{HeaderUserID: strconv.FormatInt(id, 10)}
}

func admin(id int64) map[string]string {
	return map[string]string{
		HeaderUserID:   strconv.FormatInt(id, 10),
		HeaderUserRole: RoleAdmin,
	}
}

// createAccount 建立帳戶並回傳 ID
func (tc *testClient) createAccount(owner int64) int64 {
	tc.t.Helper()
	status, body := tc.do(fiber.MethodPost, "/api/accounts", "", user(owner))
	require.Equal(tc.t, fiber.StatusCreated, status, body)
	account := body["account"].(map[string]any)
	return int64(account["id"].(float64))
}

func TestRouter_Identity(t *testing.T) {
	tc := newTestApp(t)

	status, body := tc.do(fiber.MethodGet, "/api/accounts", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, false, body["success"])

	status, _ = tc.do(fiber.MethodGet, "/api/accounts", "", map[string]string{HeaderUserID: "abc"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = tc.do(fiber.MethodGet, "/api/admin/transactions", "", user(1))
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestRouter_AccountLifecycle(t *testing.T) {
	tc := newTestApp(t)
	id := tc.createAccount(7)

	status, body := tc.do(fiber.MethodGet, "/api/accounts", "", user(7))
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])

	status, body = tc.do(fiber.MethodGet, "/api/accounts/"+strconv.FormatInt(id, 10), "", user(7))
	require.Equal(t, fiber.StatusOK, status)
	account := body["account"].(map[string]any)
	assert.Equal(t, "0.00", account["balance"])
	assert.Equal(t, "active", account["status"])
	assert.True(t, strings.HasPrefix(account["accountNumber"].(string), accountno.Prefix))

	// 他人帳戶視同不存在
	status, _ = tc.do(fiber.MethodGet, "/api/accounts/"+strconv.FormatInt(id, 10), "", user(8))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = tc.do(fiber.MethodGet, "/api/accounts/xyz", "", user(7))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestRouter_DepositWithdraw(t *testing.T) {
	tc := newTestApp(t)
	id := tc.createAccount(7)
	idText := strconv.FormatInt(id, 10)

	// 數字與字串兩種金額格式都接受
	status, body := tc.do(fiber.MethodPost, "/api/deposit", `{"accountId":`+idText+`,"amount":100.50}`, user(7))
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "100.50", body["newBalance"])
	tran := body["transaction"].(map[string]any)
	assert.Equal(t, "deposit", tran["type"])
	assert.Nil(t, tran["sourceAccount"])

	status, body = tc.do(fiber.MethodPost, "/api/withdraw", `{"accountId":"`+idText+`","amount":"0.50"}`, user(7))
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "100.00", body["newBalance"])

	status, body = tc.do(fiber.MethodPost, "/api/withdraw", `{"accountId":`+idText+`,"amount":"100.01"}`, user(7))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "Insufficient funds", body["message"])
	assert.Equal(t, "100.00", body["currentBalance"])

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "missing amount", body: `{"accountId":` + idText + `}`, message: "amount is required"},
		{name: "empty amount", body: `{"accountId":` + idText + `,"amount":"  "}`, message: "amount cannot be empty"},
		{name: "zero", body: `{"accountId":` + idText + `,"amount":0}`, message: "Invalid amount"},
		{name: "three decimals", body: `{"accountId":` + idText + `,"amount":"1.005"}`, message: "Invalid amount"},
		{name: "negative", body: `{"accountId":` + idText + `,"amount":-5}`, message: "Invalid amount"},
		{name: "not json", body: `{`, message: "Invalid body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := tc.do(fiber.MethodPost, "/api/deposit", tt.body, user(7))
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Equal(t, tt.message, body["message"])
		})
	}
}

func TestRouter_Transfer(t *testing.T) {
	tc := newTestApp(t)
	from := strconv.FormatInt(tc.createAccount(7), 10)
	to := strconv.FormatInt(tc.createAccount(9), 10)

	status, _ := tc.do(fiber.MethodPost, "/api/deposit", `{"accountId":`+from+`,"amount":"50"}`, user(7))
	require.Equal(t, fiber.StatusOK, status)

	status, body := tc.do(fiber.MethodPost, "/api/transfer",
		`{"fromAccount":`+from+`,"toAccount":`+to+`,"amount":"20.25"}`, user(7))
	require.Equal(t, fiber.StatusOK, status, body)
	data := body["data"].(map[string]any)
	assert.Equal(t, "29.75", data["sourceBalance"])
	assert.Equal(t, "20.25", data["amount"])

	status, body = tc.do(fiber.MethodPost, "/api/transfer",
		`{"fromAccount":`+from+`,"toAccount":`+from+`,"amount":"1"}`, user(7))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "cannot transfer to the same account", body["message"])

	// 轉出方不屬於呼叫者
	status, _ = tc.do(fiber.MethodPost, "/api/transfer",
		`{"fromAccount":`+from+`,"toAccount":`+to+`,"amount":"1"}`, user(9))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = tc.do(fiber.MethodGet, "/api/transactions?page=1&limit=1", "", user(9))
	require.Equal(t, fiber.StatusOK, status)
	pagination := body["pagination"].(map[string]any)
	assert.EqualValues(t, 1, pagination["total"])
	assert.EqualValues(t, 1, pagination["totalPages"])

	status, body = tc.do(fiber.MethodGet, "/api/transactions", "", user(7))
	require.Equal(t, fiber.StatusOK, status)
	pagination = body["pagination"].(map[string]any)
	assert.EqualValues(t, 2, pagination["total"])
	assert.EqualValues(t, defaultLimit, pagination["limit"])
	txs := body["transactions"].([]any)
	require.Len(t, txs, 2)
	assert.Equal(t, "transfer", txs[0].(map[string]any)["type"])

	status, _ = tc.do(fiber.MethodGet, "/api/transactions?page=0", "", user(7))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestRouter_IdempotencyKey(t *testing.T) {
	tc := newTestApp(t)
	id := strconv.FormatInt(tc.createAccount(7), 10)

	headers := user(7)
	headers[HeaderIdempotencyKey] = uuid.NewString()

	status, _ := tc.do(fiber.MethodPost, "/api/deposit", `{"accountId":`+id+`,"amount":"10"}`, headers)
	require.Equal(t, fiber.StatusOK, status)
	status, body := tc.do(fiber.MethodPost, "/api/deposit", `{"accountId":`+id+`,"amount":"10"}`, headers)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "transaction already processed", body["message"])

	_, body = tc.do(fiber.MethodGet, "/api/accounts/"+id, "", user(7))
	assert.Equal(t, "10.00", body["account"].(map[string]any)["balance"])

	headers[HeaderIdempotencyKey] = "not-a-uuid"
	status, _ = tc.do(fiber.MethodPost, "/api/deposit", `{"accountId":`+id+`,"amount":"10"}`, headers)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestRouter_Admin(t *testing.T) {
	tc := newTestApp(t)
	id := strconv.FormatInt(tc.createAccount(7), 10)

	status, body := tc.do(fiber.MethodPost, "/api/admin/freeze", `{"accountId":`+id+`}`, admin(1))
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "frozen", body["account"].(map[string]any)["status"])

	// 重複凍結仍成功
	status, _ = tc.do(fiber.MethodPost, "/api/admin/freeze", `{"accountId":`+id+`}`, admin(1))
	assert.Equal(t, fiber.StatusOK, status)

	status, body = tc.do(fiber.MethodPost, "/api/deposit", `{"accountId":`+id+`,"amount":"1"}`, user(7))
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "account is frozen", body["message"])

	status, body = tc.do(fiber.MethodGet, "/api/admin/accounts/"+id, "", admin(1))
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.NotNil(t, body["account"])

	status, _ = tc.do(fiber.MethodPost, "/api/admin/unfreeze", `{"accountId":`+id+`}`, admin(1))
	require.Equal(t, fiber.StatusOK, status)
	status, _ = tc.do(fiber.MethodGet, "/api/admin/accounts/"+id, "", admin(1))
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = tc.do(fiber.MethodPost, "/api/admin/freeze", `{"accountId":999999}`, admin(1))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = tc.do(fiber.MethodPost, "/api/admin/freeze", `{}`, admin(1))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = tc.do(fiber.MethodGet, "/api/admin/transactions?limit=5", "", admin(1))
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 0, body["pagination"].(map[string]any)["total"])
}

func TestRouter_ConcurrentWithdrawals(t *testing.T) {
	tc := newTestApp(t)
	id := strconv.FormatInt(tc.createAccount(7), 10)

	status, _ := tc.do(fiber.MethodPost, "/api/deposit", `{"accountId":`+id+`,"amount":"100"}`, user(7))
	require.Equal(t, fiber.StatusOK, status)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(fiber.MethodPost, "/api/withdraw",
				strings.NewReader(`{"accountId":`+id+`,"amount":"30"}`))
			req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			req.Header.Set(HeaderUserID, "7")
			resp, err := tc.app.Test(req, -1)
			if err != nil {
				return
			}
			resp.Body.Close()
			if resp.StatusCode == fiber.StatusOK {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	_, body := tc.do(fiber.MethodGet, "/api/accounts/"+id, "", user(7))
	assert.Equal(t, "10.00", body["account"].(map[string]any)["balance"])
}
