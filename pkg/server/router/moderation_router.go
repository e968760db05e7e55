package router

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	handlers "github.com/modguard/modguard/pkg/handlers/http"
	"github.com/modguard/modguard/pkg/middleware"
)

var ErrInvalidHandlerTransport = errors.New("invalid handler transport")

type moderationRouter struct {
	middlewareTransport *middleware.Transport
	handlerTransport    *handlers.HandlerTransport
}

func NewModerationRouter(
	middlewareTransport *middleware.Transport,
	handlerTransport *handlers.HandlerTransport,
) ServerRouter {
	return &moderationRouter{
		middlewareTransport: middlewareTransport,
		handlerTransport:    handlerTransport,
	}
}

func (r *moderationRouter) BuildRoutes(router *fiber.App) error {
	if r.handlerTransport == nil || r.handlerTransport.ModerateHandler == nil {
		return ErrInvalidHandlerTransport
	}

	v1 := router.Group("/v1")
	{
		if r.middlewareTransport != nil {
			v1.Use(r.middlewareTransport.GetMiddlewares()...)
		}
		v1.Post("/moderate", r.handlerTransport.ModerateHandler.Handle)
		v1.Get("/health", r.handlerTransport.HealthHandler.Handle)
	}

	return nil
}
