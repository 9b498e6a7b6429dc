// file: internal/transport/http/router/router_test.go

package router

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LoomBase/internal/app"
	"LoomBase/internal/core/port"
	"LoomBase/internal/resolver"
	"LoomBase/internal/service"
	"LoomBase/internal/service/plugin_manager"

	_ "modernc.org/sqlite"
)

// newTestRouter 组装一套完整的 HTTP 测试环境: 内存库 + 管理器 + 路由器
func newTestRouter(t *testing.T, dbName string) (http.Handler, *sql.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", dbName))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE _user (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT NOT NULL UNIQUE,
        password_hash TEXT NOT NULL,
        role TEXT NOT NULL DEFAULT 'admin')`)
	require.NoError(t, err)

	host, err := app.New("main", db)
	require.NoError(t, err)
	store, err := plugin_manager.NewSQLiteRecordStore(db, "main")
	require.NoError(t, err)
	require.NoError(t, store.Sync(context.Background()))
	pkgResolver, err := resolver.New(t.TempDir(), "")
	require.NoError(t, err)
	pm, err := plugin_manager.NewManager(host, store, pkgResolver, plugin_manager.Options{})
	require.NoError(t, err)

	handler := New(Dependencies{
		PluginManager:      pm,
		AuthDB:             db,
		SetupToken:         "test-setup-token",
		SetupTokenDeadline: time.Now().Add(10 * time.Minute),
	})
	return handler, db
}

func doJSON(handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewBuffer(raw)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestRouter_SetupThenLoginFlow(t *testing.T) {
	handler, _ := newTestRouter(t, "router_setup_flow")

	// 初始状态: 需要安装
	w := doJSON(handler, http.MethodGet, "/api/v1/system/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "needs_setup")

	// 错误的安装令牌被拒绝
	w = doJSON(handler, http.MethodPost, "/api/v1/system/setup?token=wrong-token", "",
		map[string]string{"user": "admin", "pass": "password123"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 正确令牌: 创建管理员
	w = doJSON(handler, http.MethodPost, "/api/v1/system/setup?token=test-setup-token", "",
		map[string]string{"user": "admin", "pass": "password123"})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	// 系统状态切换为可登录，安装接口关闭
	w = doJSON(handler, http.MethodGet, "/api/v1/system/status", "", nil)
	assert.Contains(t, w.Body.String(), "ready_for_login")
	w = doJSON(handler, http.MethodPost, "/api/v1/system/setup?token=test-setup-token", "",
		map[string]string{"user": "second", "pass": "password123"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 登录拿到令牌
	w = doJSON(handler, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"user": "admin", "pass": "password123"})
	require.Equal(t, http.StatusOK, w.Code)
	var loginResp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loginResp))
	assert.NotEmpty(t, loginResp.Token)

	// 错误密码被拒
	w = doJSON(handler, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"user": "admin", "pass": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_PluginEndpointsRequireAdminToken(t *testing.T) {
	handler, _ := newTestRouter(t, "router_auth_guard")

	// 无令牌: 401
	w := doJSON(handler, http.MethodGet, "/api/v1/pm/list", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 非管理员令牌: 403
	userToken, err := service.GenToken(2, "viewer")
	require.NoError(t, err)
	w = doJSON(handler, http.MethodGet, "/api/v1/pm/list", userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 管理员令牌: 200 + 空列表
	adminToken, err := service.GenToken(1, "admin")
	require.NoError(t, err)
	w = doJSON(handler, http.MethodGet, "/api/v1/pm/list", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_LifecycleOnUnknownPluginIs404(t *testing.T) {
	handler, _ := newTestRouter(t, "router_lifecycle_404")
	adminToken, err := service.GenToken(1, "admin")
	require.NoError(t, err)

	w := doJSON(handler, http.MethodPost, "/api/v1/pm/ghost/enable", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_AddRejectsInvalidRequests(t *testing.T) {
	handler, _ := newTestRouter(t, "router_add_invalid")
	adminToken, err := service.GenToken(1, "admin")
	require.NoError(t, err)

	// 来源缺失
	w := doJSON(handler, http.MethodPost, "/api/v1/pm/add", adminToken, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 非法插件名被校验器拦截
	w = doJSON(handler, http.MethodPost, "/api/v1/pm/add", adminToken,
		map[string]any{"name": "Invalid Name!"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusForError_Mapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{port.ErrPluginNotFound, http.StatusNotFound},
		{port.ErrDuplicatePlugin, http.StatusConflict},
		{port.ErrBuiltInProtected, http.StatusForbidden},
		{port.ErrRequiredPluginNotEnabled, http.StatusForbidden},
		{port.ErrInvalidPluginExport, http.StatusUnprocessableEntity},
		{port.ErrPackageResolution, http.StatusUnprocessableEntity},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusForError(fmt.Errorf("wrap: %w", tc.err)), "err=%v", tc.err)
	}
}

func TestPluginNamePattern(t *testing.T) {
	valid := []string{"workflow", "my-plugin", "plugin.v2", "@scope/pkg", "a1_b2"}
	invalid := []string{"", "Invalid Name!", "UPPER", "@/broken", "-leading"}

	for _, name := range valid {
		assert.True(t, pluginNamePattern.MatchString(name), "应接受 %q", name)
	}
	for _, name := range invalid {
		assert.False(t, pluginNamePattern.MatchString(name), "应拒绝 %q", name)
	}
}
