// Package httpapi — HTTP API сервиса поверх gin.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type route struct {
	Method  string
	Path    string
	Handler gin.HandlerFunc
}

// NewRouter собирает gin.Engine со всеми маршрутами API.
// Все маршруты, кроме /auth, требуют заголовок X-User-ID.
func NewRouter(h *Handlers, logger *log.Entry) *gin.Engine {
	if logger == nil {
		logger = log.WithField("component", "http")
	}

	engine := gin.New()
	engine.Use(Recovery(logger), AccessLog(logger))

	addRoutes(engine.Group("/auth"), []route{
		{Method: http.MethodPost, Path: "/register", Handler: h.register},
		{Method: http.MethodPost, Path: "/login", Handler: h.login},
	})

	api := engine.Group("")
	api.Use(RequireUser())

	addRoutes(api, []route{
		{Method: http.MethodGet, Path: "/users/profile", Handler: h.profile},

		{Method: http.MethodPost, Path: "/balances/recharge", Handler: h.rechargeBalance},
		{Method: http.MethodPost, Path: "/balances/use", Handler: h.useBalance},
		{Method: http.MethodGet, Path: "/balances", Handler: h.getBalance},

		{Method: http.MethodPost, Path: "/coupons/:id/issue", Handler: h.issueCoupon},
		{Method: http.MethodGet, Path: "/coupons", Handler: h.listCoupons},
		{Method: http.MethodGet, Path: "/coupons/me", Handler: h.listMyCoupons},

		{Method: http.MethodGet, Path: "/products", Handler: h.listProducts},
		{Method: http.MethodGet, Path: "/products/top-selling", Handler: h.topSelling},
		{Method: http.MethodGet, Path: "/products/options/:id", Handler: h.getProductOption},
		{Method: http.MethodGet, Path: "/products/:id", Handler: h.getProduct},

		{Method: http.MethodPost, Path: "/orders", Handler: h.createOrder},
		{Method: http.MethodGet, Path: "/orders", Handler: h.listOrders},
		{Method: http.MethodGet, Path: "/orders/:id", Handler: h.getOrder},
		{Method: http.MethodPatch, Path: "/orders/:id/status", Handler: h.changeOrderStatus},
	})

	return engine
}

func addRoutes(g *gin.RouterGroup, rs []route) {
	for _, r := range rs {
		g.Handle(r.Method, r.Path, r.Handler)
	}
}
