package refresh

import "go.uber.org/fx"

var Module = fx.Options(
	fx.Provide(NewSuppressor, NewController),
)
