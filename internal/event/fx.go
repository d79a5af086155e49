package event

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/substation/internal/event/repository"
	"github.com/smallbiznis/substation/internal/event/service"
)

var Module = fx.Module("event.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
