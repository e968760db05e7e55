package middleware

import "github.com/gofiber/fiber/v2"

type Middleware interface {
	Middleware() fiber.Handler
}

type Transport struct {
	ClientIPMiddleware Middleware
	MetricsMiddleware  Middleware
}

func (t *Transport) GetMiddlewares() []interface{} {
	return []interface{}{
		t.ClientIPMiddleware.Middleware(),
		t.MetricsMiddleware.Middleware(),
	}
}
