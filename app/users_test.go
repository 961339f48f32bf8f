package app

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
)

func adminEnv(t *testing.T) (*testEnv, string) {
	t.Helper()
	env := newTestEnv(t)
	boss := env.activeUser("boss")
	boss.Status = models.StatusReseller
	boss.CreatedAt = testNow.Add(-72 * time.Hour)
	env.store.put(boss)
	return env, tokenFor(t, boss.ID, boss.Email, nil)
}

func TestAdminRequiresReseller(t *testing.T) {
	env, _ := adminEnv(t)
	u := env.activeUser("u1")

	resp := env.do(http.MethodGet, "/api/admin/users", tokenFor(t, u.ID, u.Email, nil), "")
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestAdminListUsersNewestFirst(t *testing.T) {
	env, token := adminEnv(t)
	env.activeUser("u1")

	resp := env.do(http.MethodGet, "/api/admin/users", token, "")
	require.Equal(t, http.StatusOK, resp.Code)

	body := decode(t, resp)
	users := body["users"].([]any)
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].(map[string]any)["id"])
	assert.Equal(t, "boss", users[1].(map[string]any)["id"])
}

func TestAdminUpdateStatus(t *testing.T) {
	env, token := adminEnv(t)
	env.activeUser("u1")

	resp := env.do(http.MethodPatch, "/api/admin/users/u1/status", token, `{"status":"inactive"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, models.StatusInactive, env.store.get("u1").Status)

	resp = env.do(http.MethodPatch, "/api/admin/users/u1/status", token, `{"status":"reseller"}`)
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = env.do(http.MethodPatch, "/api/admin/users/u1/status", token, `{"status":"banned"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.do(http.MethodPatch, "/api/admin/users/nobody/status", token, `{"status":"active"}`)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = env.do(http.MethodPatch, "/api/admin/users/boss/status", token, `{"status":"inactive"}`)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestAdminRenewUser(t *testing.T) {
	env, token := adminEnv(t)
	u := env.activeUser("u1")
	old := testNow.Add(-40 * 24 * time.Hour)
	u.LastPaymentAt = &old
	u.Status = models.StatusInactive
	u.MinutesUsed = 200
	env.store.put(u)

	resp := env.do(http.MethodPost, "/api/admin/users/u1/renew", token, "")
	require.Equal(t, http.StatusOK, resp.Code)

	got := env.store.get("u1")
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Zero(t, got.MinutesUsed)
	require.NotNil(t, got.LastPaymentAt)
	assert.True(t, got.LastPaymentAt.Equal(testNow))

	require.Len(t, env.jobs.jobs, 1)
	assert.Equal(t, "admin", env.jobs.jobs[0].Reason)
	assert.Equal(t, u.Phone, env.jobs.jobs[0].Phone)
}

func TestAdminResetMinutes(t *testing.T) {
	env, token := adminEnv(t)
	env.activeUser("u1")

	resp := env.do(http.MethodPost, "/api/admin/users/u1/reset-minutes", token, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Zero(t, env.store.get("u1").MinutesUsed)
}
