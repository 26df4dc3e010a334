package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/smartystreets/goconvey/convey"
	"go.mongodb.org/mongo-driver/mongo"

	"pomelo/internal/model"
	"pomelo/internal/pkg/ctxutil"
)

type fakeUserStore struct {
	user       *model.User
	decrements int
	resets     int
}

func (s *fakeUserStore) FindByID(ctx context.Context, userID string) (*model.User, error) {
	if s.user == nil {
		return nil, mongo.ErrNoDocuments
	}
	u := *s.user
	return &u, nil
}

func (s *fakeUserStore) SetProviderKey(ctx context.Context, userID, key string) error {
	s.user.ProviderAPIKey = key
	return nil
}

func (s *fakeUserStore) ResetDailyQuota(ctx context.Context, userID string, limit int, at time.Time) (*model.User, error) {
	s.resets++
	s.user.DailyQueryCount = limit
	s.user.LastQueryReset = at
	u := *s.user
	return &u, nil
}

func (s *fakeUserStore) DecrementDailyQuota(ctx context.Context, userID string) (*model.User, error) {
	s.decrements++
	if s.user.DailyQueryCount <= 0 {
		return nil, mongo.ErrNoDocuments
	}
	s.user.DailyQueryCount--
	u := *s.user
	return &u, nil
}

func settingsRouter(h *UserSettingsHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	asUser := func(next gin.HandlerFunc) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Request = c.Request.WithContext(ctxutil.WithUserID(c.Request.Context(), "u1"))
			next(c)
		}
	}
	r.GET("/api/v1/user-settings", asUser(h.Get))
	r.PATCH("/api/v1/user-settings", asUser(h.CheckQuota))
	return r
}

func patchQuota(r *gin.Engine, modelID string) *httptest.ResponseRecorder {
	body := strings.NewReader(`{"model":"` + modelID + `"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/user-settings", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type quotaReply struct {
	DailyQueryCount int  `json:"dailyQueryCount"`
	Unlimited       bool `json:"unlimited"`
}

func TestUserSettingsCheckQuota(t *testing.T) {
	Convey("配额端点 PATCH /user-settings", t, func() {
		now := time.Now().UTC()

		Convey("付费模型扣减一次并返回剩余次数", func() {
			store := &fakeUserStore{user: &model.User{ID: "u1", DailyQueryCount: 5, LastQueryReset: now}}
			r := settingsRouter(NewUserSettingsHandler(store, nil, 50))

			w := patchQuota(r, "gpt-4-premium")
			So(w.Code, ShouldEqual, http.StatusOK)

			var body quotaReply
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(body.DailyQueryCount, ShouldEqual, 4)
			So(store.decrements, ShouldEqual, 1)
		})

		Convey("额度用尽返回 403", func() {
			store := &fakeUserStore{user: &model.User{ID: "u1", DailyQueryCount: 0, LastQueryReset: now}}
			r := settingsRouter(NewUserSettingsHandler(store, nil, 50))

			w := patchQuota(r, "gpt-4-premium")
			So(w.Code, ShouldEqual, http.StatusForbidden)

			var body map[string]string
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(body["error"], ShouldEqual, "Query limit reached")
		})

		Convey("免费模型不扣减", func() {
			store := &fakeUserStore{user: &model.User{ID: "u1", DailyQueryCount: 3, LastQueryReset: now}}
			r := settingsRouter(NewUserSettingsHandler(store, nil, 50))

			w := patchQuota(r, "llama-3-Free")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(store.decrements, ShouldEqual, 0)
			So(store.user.DailyQueryCount, ShouldEqual, 3)
		})

		Convey("自带 API Key 的用户额度不设限", func() {
			store := &fakeUserStore{user: &model.User{
				ID:              "u1",
				DailyQueryCount: 0,
				ProviderAPIKey:  "sk-own-key",
				LastQueryReset:  now,
			}}
			r := settingsRouter(NewUserSettingsHandler(store, nil, 50))

			w := patchQuota(r, "gpt-4-premium")
			So(w.Code, ShouldEqual, http.StatusOK)

			var body quotaReply
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(body.Unlimited, ShouldBeTrue)
			So(store.decrements, ShouldEqual, 0)
		})

		Convey("跨天首次请求先重置额度", func() {
			store := &fakeUserStore{user: &model.User{
				ID:              "u1",
				DailyQueryCount: 0,
				LastQueryReset:  now.AddDate(0, 0, -1),
			}}
			r := settingsRouter(NewUserSettingsHandler(store, nil, 50))

			w := patchQuota(r, "gpt-4-premium")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(store.resets, ShouldEqual, 1)

			var body quotaReply
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(body.DailyQueryCount, ShouldEqual, 49)
		})
	})
}

func TestUserSettingsGet(t *testing.T) {
	Convey("GET /user-settings 返回额度和 Key 状态", t, func() {
		reset := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
		store := &fakeUserStore{user: &model.User{
			ID:              "u1",
			Email:           "u1@example.com",
			DailyQueryCount: 12,
			ProviderAPIKey:  "sk-own-key",
			LastQueryReset:  reset,
		}}
		r := settingsRouter(NewUserSettingsHandler(store, nil, 50))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/user-settings", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		So(w.Code, ShouldEqual, http.StatusOK)

		var resp model.UserSettingsResponse
		So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
		So(resp.DailyQueryCount, ShouldEqual, 12)
		So(resp.HasProviderKey, ShouldBeTrue)
		So(resp.LastQueryReset.Equal(reset), ShouldBeTrue)
	})
}
