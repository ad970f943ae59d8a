package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/ycommand/internal/meta"
	"github.com/luma/ycommand/storage"
	"github.com/luma/ycommand/transport"
)

var _ = Describe("transport / Router", func() {
	var (
		store  *storage.InmemoryStore
		router *gin.Engine
	)

	BeforeEach(func() {
		store = storage.NewInmemoryStore()
		router = transport.NewRouter(store, zap.NewNop(), false)
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(w, req)
		return w
	}

	It("answers /ping", func() {
		w := get("/ping")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("pong"))
	})

	It("reports the build info on /version", func() {
		w := get("/version")
		Expect(w.Code).To(Equal(http.StatusOK))

		var info meta.Info
		Expect(json.Unmarshal(w.Body.Bytes(), &info)).To(Succeed())
		Expect(info).To(Equal(meta.GetInfo()))
	})

	It("lists the subscriptions of a session", func() {
		Expect(store.Subscribe(context.Background(), transport.SessionKey("myKey", "MyApp"), "widgetlist")).To(Succeed())

		w := get("/apps/myKey/sessions/MyApp/subscriptions")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(MatchJSON(`{"consumerKey":"myKey","session":"MyApp","subscriptions":["widgetlist"]}`))
	})

	It("keeps sessions of different consumer keys apart", func() {
		Expect(store.Subscribe(context.Background(), transport.SessionKey("myKey", "MyApp"), "widgetlist")).To(Succeed())

		w := get("/apps/otherKey/sessions/MyApp/subscriptions")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(MatchJSON(`{"consumerKey":"otherKey","session":"MyApp","subscriptions":[]}`))
	})

	It("returns an empty list for an unknown session", func() {
		w := get("/apps/myKey/sessions/nobody/subscriptions")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(MatchJSON(`{"consumerKey":"myKey","session":"nobody","subscriptions":[]}`))
	})
})
