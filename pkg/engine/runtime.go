package engine

import (
	"context"

	"github.com/reelforge/reelforge/pkg/producer"
	"github.com/reelforge/reelforge/pkg/secrets"
)

// jobRuntime is the producer.Runtime the executor hands to handlers. Inputs
// and fan-in sequences are resolved before invocation; handlers only read.
type jobRuntime struct {
	mode    producer.Mode
	inputs  map[string]interface{}
	fanIn   map[string][]string
	config  map[string]interface{}
	secrets secrets.Resolver
	notify  func(message string, fields map[string]interface{})
}

func (rt *jobRuntime) Mode() producer.Mode {
	return rt.mode
}

func (rt *jobRuntime) Input(id string) (interface{}, bool) {
	value, ok := rt.inputs[id]
	return value, ok
}

func (rt *jobRuntime) FanIn(id string) ([]string, bool) {
	ids, ok := rt.fanIn[id]
	return ids, ok
}

func (rt *jobRuntime) Config() map[string]interface{} {
	return rt.config
}

func (rt *jobRuntime) Notify(message string, fields map[string]interface{}) {
	if rt.notify != nil {
		rt.notify(message, fields)
	}
}

func (rt *jobRuntime) Secret(ctx context.Context, name string) (string, error) {
	if rt.secrets == nil {
		return "", NewUserInputError("no secret resolver configured", nil).WithCode(ErrCodeInvalidConfig)
	}
	return rt.secrets.Secret(ctx, name)
}
