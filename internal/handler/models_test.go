package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	. "github.com/smartystreets/goconvey/convey"

	"pomelo/internal/model"
)

func modelsRouter(h *ModelsHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/v1/models", h.List)
	return r
}

func getModels(r *gin.Engine) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestModelsList(t *testing.T) {
	Convey("GET /models 模型列表代理", t, func() {
		Convey("裁剪上游响应并缓存", func() {
			var hits int64
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt64(&hits, 1)
				if r.Header.Get("Authorization") != "Bearer k-test" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				_ = json.NewEncoder(w).Encode([]map[string]any{
					{"id": "meta-llama/Llama-3.3-70B", "display_name": "Llama 3.3 70B", "pricing": map[string]float64{"input": 0.88}},
					{"id": "mistral-small-free", "display_name": "Mistral Small"},
					{"display_name": "no id, dropped"},
				})
			}))
			defer upstream.Close()

			r := modelsRouter(NewModelsHandler(upstream.URL, "k-test", nil))

			w := getModels(r)
			So(w.Code, ShouldEqual, http.StatusOK)

			var models []model.ModelInfo
			So(json.Unmarshal(w.Body.Bytes(), &models), ShouldBeNil)
			So(len(models), ShouldEqual, 2)
			So(models[0].Name, ShouldEqual, "meta-llama/Llama-3.3-70B")
			So(models[0].Description, ShouldEqual, "Llama 3.3 70B")
			So(*models[0].PricePerMillion, ShouldEqual, 0.88)
			So(models[1].PricePerMillion, ShouldBeNil)

			// 第二次命中缓存，不再打上游
			w = getModels(r)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(atomic.LoadInt64(&hits), ShouldEqual, 1)
		})

		Convey("支持 {models: []} 包装格式", func() {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"models": []map[string]any{{"id": "m1"}},
				})
			}))
			defer upstream.Close()

			r := modelsRouter(NewModelsHandler(upstream.URL, "k-test", nil))
			w := getModels(r)
			So(w.Code, ShouldEqual, http.StatusOK)

			var models []model.ModelInfo
			So(json.Unmarshal(w.Body.Bytes(), &models), ShouldBeNil)
			So(len(models), ShouldEqual, 1)
			So(models[0].Name, ShouldEqual, "m1")
		})

		Convey("缺少 API Key 返回 500", func() {
			r := modelsRouter(NewModelsHandler("http://unused.invalid", "", nil))
			w := getModels(r)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("上游异常返回 500", func() {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			}))
			defer upstream.Close()

			r := modelsRouter(NewModelsHandler(upstream.URL, "k-test", nil))
			w := getModels(r)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("同一 IP 超过每分钟限额时拒绝", func() {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "m1"}})
			}))
			defer upstream.Close()

			r := modelsRouter(NewModelsHandler(upstream.URL, "k-test", nil))
			limited := false
			for i := 0; i < modelsRatePerMinute+1; i++ {
				if getModels(r).Code == http.StatusTooManyRequests {
					limited = true
				}
			}
			So(limited, ShouldBeTrue)
		})
	})
}
