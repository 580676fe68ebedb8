package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts time for business logic so tests can drive it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func NewSystemClock() Clock {
	return systemClock{}
}

// Module provides the wall clock.
var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
